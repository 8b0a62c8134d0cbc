package service

import "sync"

// Subscription is one subscriber of an EventBus.
type Subscription[T any] struct {
	C chan T

	mu     sync.Mutex
	lagged bool
}

// Lagged reports whether events were dropped since the last call, and resets
// the flag.
func (s *Subscription[T]) Lagged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lagged
	s.lagged = false
	return l
}

func (s *Subscription[T]) markLagged() {
	s.mu.Lock()
	s.lagged = true
	s.mu.Unlock()
}

// EventBus is a simple fan-out pub/sub. Publishing never blocks: events for a
// subscriber whose buffer is full are dropped and the subscriber is marked
// lagged so it can resynchronize.
type EventBus[T any] struct {
	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	buffer int
}

// NewEventBus creates an event bus whose subscribers buffer up to buffer events.
func NewEventBus[T any](buffer int) *EventBus[T] {
	if buffer <= 0 {
		buffer = 16
	}
	return &EventBus[T]{subs: make(map[*Subscription[T]]struct{}), buffer: buffer}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *EventBus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.C <- e:
		default:
			sub.markLagged()
		}
	}
}

// Subscribe registers a new subscriber.
func (b *EventBus[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{C: make(chan T, b.buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus[T]) Unsubscribe(sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.C)
}

// Len returns the number of subscribers.
func (b *EventBus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
