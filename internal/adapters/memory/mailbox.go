package memory

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO in front of a subscriber channel, so that
// publishers holding the store lock never block on a slow reader.
type mailbox[T any] struct {
	mu     sync.Mutex
	queue  []T
	notify chan struct{}
	out    chan T
}

func newMailbox[T any](ctx context.Context) *mailbox[T] {
	m := &mailbox[T]{
		notify: make(chan struct{}, 1),
		out:    make(chan T),
	}
	go m.run(ctx)
	return m
}

func (m *mailbox[T]) push(v T) {
	m.mu.Lock()
	m.queue = append(m.queue, v)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox[T]) run(ctx context.Context) {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			v := m.queue[0]
			var zero T
			m.queue[0] = zero
			m.queue = m.queue[1:]
			m.mu.Unlock()

			select {
			case m.out <- v:
			case <-ctx.Done():
				return
			}
			continue
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-ctx.Done():
			return
		}
	}
}
