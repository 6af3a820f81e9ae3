package event

import "sync"

// Handler receives events of the kind it is registered for.
type Handler func(Event)

func noop(Event) {}

// Dispatcher holds exactly one handler per kind. It is meant for a single
// consumer: registering a second handler replaces the first.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers [kindCount]Handler
}

// NewDispatcher returns a dispatcher with a no-op handler in every slot.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{}
	for i := range d.handlers {
		d.handlers[i] = noop
	}
	return d
}

// On replaces the handler for kind. Unknown kinds are ignored and a nil
// handler clears the slot.
func (d *Dispatcher) On(kind Kind, h Handler) {
	if !kind.Valid() {
		return
	}
	if h == nil {
		h = noop
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// Off resets the slot for kind to a no-op. h is accepted for symmetry with On
// and is not compared against the registered handler.
func (d *Dispatcher) Off(kind Kind, h Handler) {
	d.On(kind, nil)
}

// Emit calls the handler registered for e's kind.
func (d *Dispatcher) Emit(e Event) {
	if e == nil || !e.Kind().Valid() {
		return
	}
	d.mu.RLock()
	h := d.handlers[e.Kind()]
	d.mu.RUnlock()
	h(e)
}
