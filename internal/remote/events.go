package remote

import (
	"encoding/json"
	"sync"

	"github.com/codefionn/deskbridge/internal/logger"
)

// EventMux fans inbound push messages out to subscribers by event name.
//
// Handlers registered for the same event have no ordering guarantee among
// each other. A panicking handler is isolated: it is logged and does not
// prevent delivery to the remaining handlers.
type EventMux struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]func(json.RawMessage)
}

// NewEventMux creates an empty multiplexer
func NewEventMux() *EventMux {
	return &EventMux{handlers: make(map[string]map[int]func(json.RawMessage))}
}

// Subscribe registers handler for event and returns an unsubscribe
// function. Unsubscribing is idempotent; an event name with no remaining
// handlers is removed from the map.
func (m *EventMux) Subscribe(event string, handler func(json.RawMessage)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID

	set, ok := m.handlers[event]
	if !ok {
		set = make(map[int]func(json.RawMessage))
		m.handlers[event] = set
	}
	set[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if set, ok := m.handlers[event]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(m.handlers, event)
				}
			}
		})
	}
}

// Dispatch delivers payload synchronously to every handler registered for
// event. Unknown events are dropped.
func (m *EventMux) Dispatch(event string, payload json.RawMessage) {
	m.mu.Lock()
	set := m.handlers[event]
	snapshot := make([]func(json.RawMessage), 0, len(set))
	for _, h := range set {
		snapshot = append(snapshot, h)
	}
	m.mu.Unlock()

	for _, h := range snapshot {
		m.deliver(event, h, payload)
	}
}

func (m *EventMux) deliver(event string, handler func(json.RawMessage), payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Event handler for %q panicked: %v", event, r)
		}
	}()
	handler(payload)
}

// HandlerCount returns the number of handlers registered for event
func (m *EventMux) HandlerCount(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[event])
}
