package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds retry configuration for infrastructure connections.
// Call setup paths never retry; only startup dials go through here.
type Config struct {
	// Name prefixes errors, e.g. "PostgreSQL"
	Name            string
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	MaxTotalTimeout time.Duration
	// OnRetry is called after a failed attempt that will be retried
	OnRetry func(attempt int, err error, nextDelay time.Duration)
}

// DefaultConfig returns a configuration bounded to one minute in total
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		MaxAttempts:     10,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		BackoffFactor:   2.0,
		MaxTotalTimeout: time.Minute,
	}
}

// Do runs fn until it succeeds, the attempts run out or ctx is done
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxTotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.MaxTotalTimeout)
		defer cancel()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return cfg.abort(attempt-1, err, lastErr)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= cfg.MaxAttempts {
			return fmt.Errorf("%smax retry attempts (%d) exceeded: %w", cfg.prefix(), cfg.MaxAttempts, lastErr)
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return cfg.abort(attempt, ctx.Err(), lastErr)
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

func (c Config) prefix() string {
	if c.Name == "" {
		return ""
	}
	return c.Name + ": "
}

func (c Config) abort(attempts int, ctxErr, lastErr error) error {
	if lastErr != nil {
		return fmt.Errorf("%sretry aborted after %d attempts: %w (last error: %v)", c.prefix(), attempts, ctxErr, lastErr)
	}
	return fmt.Errorf("%sretry aborted: %w", c.prefix(), ctxErr)
}
