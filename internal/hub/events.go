package hub

import (
	"log/slog"
	"sync"
	"time"
)

// Event types
const (
	EventMessage     = "message"
	EventDeviceState = "device_state"
	EventCommand     = "command"
)

// Event is published on the bus for every decoded message, state change
// and command sent.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// MessageEvent is the Data of an EventMessage.
type MessageEvent struct {
	Device string         `json:"device"`
	Source string         `json:"source,omitempty"`
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields"`
	Time   time.Time      `json:"time"`
}

// StateEvent is the Data of an EventDeviceState.
type StateEvent struct {
	Device string `json:"device"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

// CommandEvent is the Data of an EventCommand.
type CommandEvent struct {
	Device  string         `json:"device"`
	Command map[string]any `json:"command"`
	Error   string         `json:"error,omitempty"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus fans events out to subscribers.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for one event type and returns its unsubscribe
// function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler for every event type.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit calls the matching handlers synchronously. A panicking handler is
// logged and skipped.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, h := range eb.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
