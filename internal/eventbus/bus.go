// Package eventbus implements a small typed publish/subscribe bus. It backs
// both the live-update fan-out (cache events to UI observers) and the auth
// mediator (sign-in/sign-out notifications).
package eventbus

import (
	"sort"
	"sync"
)

// Bus dispatches values of one event type to subscribed handlers. Handlers
// are invoked synchronously in subscription order; a handler must not block.
type Bus[T any] struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(T)
}

// New creates an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{handlers: make(map[int]func(T))}
}

// Subscribe registers a handler and returns a function that removes it.
// The returned unsubscribe is idempotent and safe to call from a handler.
func (b *Bus[T]) Subscribe(h func(T)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers the event to every current subscriber. The handler set is
// snapshotted first, so handlers may subscribe or unsubscribe reentrantly.
func (b *Bus[T]) Publish(ev T) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	// Map iteration order is random; deliver in subscription order.
	sort.Ints(ids)
	hs := make([]func(T), 0, len(ids))
	for _, id := range ids {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

// Len returns the current subscriber count (for introspection and tests).
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
