package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/domain/repositories"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
)

// CachedScheduledCallAdapter wraps a ScheduledCallRepository with a read-through cache on GetByID.
// Lists always hit the repository so the pending set is never stale.
type CachedScheduledCallAdapter struct {
	adapter repositories.ScheduledCallRepository
	cache   providers.CacheProvider
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewCachedScheduledCallAdapter creates a new cached scheduled call adapter
func NewCachedScheduledCallAdapter(adapter repositories.ScheduledCallRepository, cache providers.CacheProvider, ttl time.Duration) *CachedScheduledCallAdapter {
	return &CachedScheduledCallAdapter{
		adapter: adapter,
		cache:   cache,
		ttl:     ttl,
	}
}

var _ repositories.ScheduledCallRepository = (*CachedScheduledCallAdapter)(nil)

// SetMetrics enables cache hit and miss counters
func (a *CachedScheduledCallAdapter) SetMetrics(metrics *observability.Metrics) {
	a.metrics = metrics
}

// Create creates a scheduled call
func (a *CachedScheduledCallAdapter) Create(ctx context.Context, call *entities.ScheduledCall) error {
	return a.adapter.Create(ctx, call)
}

// GetByID retrieves a scheduled call by ID with caching
func (a *CachedScheduledCallAdapter) GetByID(ctx context.Context, id string) (*entities.ScheduledCall, error) {
	logger := observability.LoggerFromContext(ctx)
	cacheKey := providers.ScheduledCallCacheKey(id)

	cached, err := a.cache.Get(ctx, cacheKey)
	switch {
	case err == nil:
		var call entities.ScheduledCall
		if err := json.Unmarshal(cached, &call); err == nil {
			observability.RecordCacheHit(ctx, a.metrics, "scheduled_call")
			return &call, nil
		}
		logger.Warn().Err(err).Str("call_id", id).Msg("failed to unmarshal cached scheduled call")
	case !errors.Is(err, providers.ErrCacheMiss):
		logger.Warn().Err(err).Str("call_id", id).Msg("scheduled call cache read failed")
	}

	observability.RecordCacheMiss(ctx, a.metrics, "scheduled_call")
	call, err := a.adapter.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(call); err == nil {
		if err := a.cache.Set(ctx, cacheKey, data, a.ttl); err != nil {
			logger.Warn().Err(err).Str("call_id", id).Msg("failed to cache scheduled call")
		}
	}
	return call, nil
}

// UpdateStatus updates the status and invalidates the cached record
func (a *CachedScheduledCallAdapter) UpdateStatus(ctx context.Context, id string, status entities.ScheduledCallStatus, at time.Time) error {
	if err := a.adapter.UpdateStatus(ctx, id, status, at); err != nil {
		return err
	}
	a.invalidate(ctx, id)
	return nil
}

// MarkReminderSent records the reminder and invalidates the cached record
func (a *CachedScheduledCallAdapter) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	if err := a.adapter.MarkReminderSent(ctx, id, at); err != nil {
		return err
	}
	a.invalidate(ctx, id)
	return nil
}

// List passes through to the repository
func (a *CachedScheduledCallAdapter) List(ctx context.Context, filter repositories.ScheduledCallFilter) ([]*entities.ScheduledCall, error) {
	return a.adapter.List(ctx, filter)
}

// Delete removes the call and its cached record
func (a *CachedScheduledCallAdapter) Delete(ctx context.Context, id string) error {
	if err := a.adapter.Delete(ctx, id); err != nil {
		return err
	}
	a.invalidate(ctx, id)
	return nil
}

func (a *CachedScheduledCallAdapter) invalidate(ctx context.Context, id string) {
	if err := a.cache.Delete(ctx, providers.ScheduledCallCacheKey(id)); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("call_id", id).Msg("failed to invalidate cached scheduled call")
	}
}
