package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/domain/repositories"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
)

// CacheWarmingService preloads pending calls that are about to start, so the reminder
// and join paths read them from the cache.
type CacheWarmingService struct {
	repo    repositories.ScheduledCallRepository
	cache   providers.CacheProvider
	clock   clock.Clock
	horizon time.Duration
	ttl     time.Duration
}

// NewCacheWarmingService creates a warming service for calls due within horizon.
// repo should be the uncached repository.
func NewCacheWarmingService(
	repo repositories.ScheduledCallRepository,
	cache providers.CacheProvider,
	clk clock.Clock,
	horizon, ttl time.Duration,
) *CacheWarmingService {
	if clk == nil {
		clk = clock.New()
	}
	return &CacheWarmingService{
		repo:    repo,
		cache:   cache,
		clock:   clk,
		horizon: horizon,
		ttl:     ttl,
	}
}

// WarmCache caches every pending call that is immediate or starts within the horizon.
// It returns how many records were written.
func (s *CacheWarmingService) WarmCache(ctx context.Context) (int, error) {
	calls, err := s.repo.List(ctx, repositories.ScheduledCallFilter{Status: entities.ScheduledCallStatusPending})
	if err != nil {
		return 0, fmt.Errorf("failed to list pending calls: %w", err)
	}

	logger := observability.LoggerFromContext(ctx)
	deadline := s.clock.Now().Add(s.horizon)
	warmed := 0
	for _, call := range calls {
		if !call.IsImmediate && call.ScheduledTime != nil && call.ScheduledTime.After(deadline) {
			continue
		}
		data, err := json.Marshal(call)
		if err != nil {
			logger.Warn().Err(err).Str("call_id", call.ID).Msg("failed to marshal scheduled call")
			continue
		}
		if err := s.cache.Set(ctx, providers.ScheduledCallCacheKey(call.ID), data, s.ttl); err != nil {
			logger.Warn().Err(err).Str("call_id", call.ID).Msg("failed to warm scheduled call")
			continue
		}
		warmed++
	}
	return warmed, nil
}

// StartPeriodicWarming warms once, then on every interval until ctx is done
func (s *CacheWarmingService) StartPeriodicWarming(ctx context.Context, interval time.Duration) {
	logger := observability.GetLogger()
	if n, err := s.WarmCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial cache warming failed")
	} else {
		logger.Info().Int("calls", n).Msg("warmed scheduled call cache")
	}

	ticker := s.clock.Ticker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := s.WarmCache(ctx); err != nil {
					logger.Warn().Err(err).Msg("periodic cache warming failed")
				} else if n > 0 {
					logger.Debug().Int("calls", n).Msg("warmed scheduled call cache")
				}
			}
		}
	}()
}
