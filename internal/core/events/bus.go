// Package events carries the observable state changes of a session:
// transport state transitions, store state transitions, and dropped
// payloads. Consumers subscribe per event type and must Cancel their
// subscription when the owning document is closed.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single observable occurrence, tagged with the room it
// belongs to.
type Event struct {
	Type      string
	Room      string
	Timestamp time.Time
	Data      any
}

// NewEvent creates an Event stamped with the current time.
func NewEvent(typ, room string, data any) Event {
	return Event{Type: typ, Room: room, Timestamp: time.Now(), Data: data}
}

// Handler processes a published event. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Subscription is a handle to a registered handler.
type Subscription interface {
	ID() string
	EventType() string
	Cancel()
}

type subscription struct {
	id        string
	eventType string
	handler   Handler
	cancel    func()
}

func (s *subscription) ID() string        { return s.id }
func (s *subscription) EventType() string { return s.eventType }
func (s *subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Bus is a thread-safe in-process event bus.
type Bus struct {
	mu sync.RWMutex
	// handlers: eventType -> subID -> subscription
	handlers map[string]map[string]*subscription
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string]map[string]*subscription),
	}
}

// Subscribe registers a handler for the given event type and returns a
// cancellable subscription.
func (b *Bus) Subscribe(eventType string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]*subscription)
	}
	id := uuid.NewString()
	s := &subscription{id: id, eventType: eventType, handler: handler}
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if mm, ok := b.handlers[eventType]; ok {
			delete(mm, id)
			if len(mm) == 0 {
				delete(b.handlers, eventType)
			}
		}
	}
	b.handlers[eventType][id] = s
	return s
}

// Publish delivers the event to every handler subscribed to its type.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.handlers[event.Type]))
	for _, s := range b.handlers[event.Type] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(event)
	}
}

// SubscriberCount reports how many handlers are registered for the type.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
