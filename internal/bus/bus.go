package bus

import (
	"sort"
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
//
// Handlers registered with Handle run synchronously inside Publish, in
// registration order. Channel subscribers registered with Subscribe receive
// events without blocking the publisher; a full channel drops the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
	fn        func(Event)
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish delivers an event to every subscriber whose namespace is a prefix of evt.Kind.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id, sub := range b.subs {
		if strings.HasPrefix(string(evt.Kind), sub.namespace) {
			ids = append(ids, id)
		}
	}
	matched := make([]*subscription, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		matched = append(matched, b.subs[id])
	}
	b.mu.RUnlock()

	// Handlers run outside the lock so they may publish or unsubscribe.
	for _, sub := range matched {
		if sub.fn != nil {
			sub.fn(evt)
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop event if subscriber is full (non-blocking).
		}
	}
}

// Emit is shorthand for Publish(NewEvent(kind, payload)).
func (b *Bus) Emit(kind Kind, payload any) {
	b.Publish(NewEvent(kind, payload))
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	return ch, b.add(&subscription{namespace: namespace, ch: ch})
}

// Handle registers fn to be called synchronously for every event matching
// the namespace prefix. Returns an unsubscribe function.
func (b *Bus) Handle(namespace string, fn func(Event)) func() {
	return b.add(&subscription{namespace: namespace, fn: fn})
}

func (b *Bus) add(sub *subscription) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
