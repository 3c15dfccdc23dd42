package memory

import (
	"context"
	"sync"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
)

// EventBus is a process-local providers.EventBus
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *entities.CallEvent]struct{}
	closed      bool
}

// NewEventBus creates a process-local event bus
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]map[chan *entities.CallEvent]struct{})}
}

var _ providers.EventBus = (*EventBus)(nil)

// Publish fans event out to the channel's subscribers, skipping full ones
func (b *EventBus) Publish(ctx context.Context, channel string, event *entities.CallEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[channel] {
		select {
		case sub <- event:
		default:
			observability.GetLogger().Warn().Str("channel", channel).Str("event_id", event.ID).Msg("subscriber channel full, skipping event")
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.CallEvent, error) {
	ch := make(chan *entities.CallEvent, 100)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[chan *entities.CallEvent]struct{})
	}
	b.subscribers[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(channel, ch)
	}()
	return ch, nil
}

func (b *EventBus) remove(channel string, ch chan *entities.CallEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[channel]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, channel)
	}
}

// Unsubscribe closes every subscriber of channel
func (b *EventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers[channel] {
		close(ch)
	}
	delete(b.subscribers, channel)
	return nil
}

// Close closes every subscription
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for channel, subs := range b.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(b.subscribers, channel)
	}
	b.closed = true
	return nil
}
