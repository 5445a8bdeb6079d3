package realtime

import (
	"log/slog"
	"sync"
)

// Handler processes one decoded event.
type Handler func(Event)

// Dispatcher routes events to handlers keyed by event type. Handlers are
// bound once when a session is wired up and the whole table is torn down when
// the session is replaced; rebinding an already-bound type is rejected so a
// stale handler can never shadow a fresh one.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string]Handler
	fallback Handler
	logger   *slog.Logger
	torn     bool
}

// NewDispatcher creates an empty dispatch table.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Bind registers the handler for an event type. Returns false if the type is
// already bound or the table has been torn down.
func (d *Dispatcher) Bind(eventType string, h Handler) bool {
	if h == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.torn {
		return false
	}
	if _, dup := d.handlers[eventType]; dup {
		return false
	}
	d.handlers[eventType] = h
	return true
}

// BindFallback registers the handler invoked for event types with no
// dedicated binding.
func (d *Dispatcher) BindFallback(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.torn {
		return
	}
	d.fallback = h
}

// Dispatch routes one event. Events arriving after Teardown are dropped.
func (d *Dispatcher) Dispatch(evt Event) {
	if evt == nil {
		return
	}
	d.mu.Lock()
	if d.torn {
		d.mu.Unlock()
		return
	}
	h := d.handlers[evt.EventType()]
	if h == nil {
		h = d.fallback
	}
	d.mu.Unlock()

	if h == nil {
		d.logger.Debug("unhandled event", "type", evt.EventType())
		return
	}
	h(evt)
}

// Teardown clears all bindings. Used when the session owning this table is
// replaced so events from a dying transport cannot reach the new session.
func (d *Dispatcher) Teardown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.torn = true
	d.handlers = make(map[string]Handler)
	d.fallback = nil
}
