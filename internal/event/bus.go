// Package event provides a small typed publish/subscribe bus. It is the
// explicit replacement for routing application events through shared
// globals: every subscription returns a token and can be detached, so a
// component tearing down leaves nothing behind.
package event

import "sync"

// Bus fans out values of type T to registered subscribers.
// Publish calls handlers synchronously in subscription order, on the
// publisher's goroutine, so delivery order matches publish order.
type Bus[T any] struct {
	mu   sync.Mutex
	subs []subscription[T]
	next int
}

type subscription[T any] struct {
	token   int
	handler func(T)
}

// Subscribe registers a handler and returns a token for Unsubscribe.
func (b *Bus[T]) Subscribe(handler func(T)) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.subs = append(b.subs, subscription[T]{token: b.next, handler: handler})
	return b.next
}

// Unsubscribe detaches the handler registered under token.
// Unknown tokens are ignored.
func (b *Bus[T]) Unsubscribe(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.token == token {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every current subscriber.
// Handlers registered or removed during delivery take effect on the
// next Publish.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	snapshot := make([]subscription[T], len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		s.handler(v)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
