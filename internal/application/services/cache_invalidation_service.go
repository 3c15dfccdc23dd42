package services

import (
	"context"
	"fmt"
	"time"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
)

// CacheInvalidationService drops cached scheduled calls when any instance publishes
// a change for them, so writers that bypass the cached adapter are still observed.
type CacheInvalidationService struct {
	cache    providers.CacheProvider
	eventBus providers.EventBus
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCacheInvalidationService creates a new cache invalidation service
func NewCacheInvalidationService(cache providers.CacheProvider, eventBus providers.EventBus) *CacheInvalidationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CacheInvalidationService{
		cache:    cache,
		eventBus: eventBus,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start begins listening for call events
func (s *CacheInvalidationService) Start() error {
	eventChan, err := s.eventBus.Subscribe(s.ctx, providers.EventChannelCallUpdates)
	if err != nil {
		return fmt.Errorf("failed to subscribe to call updates: %w", err)
	}

	go s.processEvents(eventChan)
	observability.GetLogger().Info().Msg("cache invalidation service started")
	return nil
}

// Stop stops the service and waits for the event loop to exit
func (s *CacheInvalidationService) Stop() {
	s.cancel()
	<-s.done
}

func (s *CacheInvalidationService) processEvents(eventChan <-chan *entities.CallEvent) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			s.handleEvent(event)
		}
	}
}

func (s *CacheInvalidationService) handleEvent(event *entities.CallEvent) {
	// creation and reminders do not change a cached record's lifecycle
	if event.EventType == entities.CallEventCreated {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.InvalidateCall(ctx, event.CallID); err != nil {
		observability.GetLogger().Warn().Err(err).
			Str("call_id", event.CallID).
			Str("event_type", string(event.EventType)).
			Msg("failed to invalidate cached scheduled call")
	}
}

// InvalidateCall removes one scheduled call from the cache
func (s *CacheInvalidationService) InvalidateCall(ctx context.Context, callID string) error {
	if callID == "" {
		return nil
	}
	if err := s.cache.Delete(ctx, providers.ScheduledCallCacheKey(callID)); err != nil {
		return fmt.Errorf("failed to invalidate call cache: %w", err)
	}
	return nil
}
