// Package events is the in-process pub/sub broker behind the operator event stream and the
// event journal.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan Envelope
	now  func() time.Time
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan Envelope), now: time.Now}
}

// Subscribe registers a listener for an event (or All) and returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// Publish fans the payload out to topic and All subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	env := Envelope{ID: uuid.NewString(), Topic: e, Payload: payload, At: b.now()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, topic := range []Event{e, All} {
		for _, ch := range b.subs[topic] {
			select {
			case ch <- env:
			default:
				// drop if subscriber is slow; keep broker non-blocking
			}
		}
	}
}
