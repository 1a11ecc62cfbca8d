package bus

import "sync"

// Bus fans the sessions-changed signal out to subscribed handlers. The
// signal carries no payload: receivers re-derive state from the source of
// truth. Publish is synchronous; handlers that do real work must hand it
// off to a goroutine.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func()
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]func())}
}

// Subscribe registers fn and returns a function that removes it. The
// returned cancel must be called when the subscriber's lifetime ends.
func (b *Bus) Subscribe(fn func()) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish invokes every subscribed handler.
func (b *Bus) Publish() {
	b.mu.RLock()
	handlers := make([]func(), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn()
	}
}

// Count returns the number of active subscribers.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
