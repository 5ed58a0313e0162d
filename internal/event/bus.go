// Package event provides a small in-process fan-out bus. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
package event

import (
	"sync"
	"sync/atomic"
)

// Bus delivers values of type T to every current subscriber in publish order.
type Bus[T any] struct {
	mu      sync.RWMutex
	subs    map[uint64]chan T
	next    uint64
	buffer  int
	dropped atomic.Int64
	closed  bool
}

// NewBus creates a bus whose subscriptions buffer up to buffer values.
func NewBus[T any](buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus[T]{subs: make(map[uint64]chan T), buffer: buffer}
}

// Subscribe registers a listener. The returned cancel func unsubscribes and closes
// the channel; it is safe to call more than once.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish hands v to every subscriber without waiting.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus[T]) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers returns the number of active subscriptions.
func (b *Bus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are no-ops.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
