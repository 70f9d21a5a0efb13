package event

import "sync"

// Handler receives every event delivered by the client, in delivery order,
// from the client's dispatch goroutine.
type Handler interface {
	Handle(ev Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ev Event)

// Handle implements Handler.
func (f HandlerFunc) Handle(ev Event) {
	f(ev)
}

// Mux routes events to typed callbacks by Kind. Events without a registered
// callback go to Default, if set. A Mux may be configured concurrently with
// dispatch.
type Mux struct {
	mu       sync.RWMutex
	handlers map[Kind][]func(Event)

	// Default receives events no callback was registered for.
	Default Handler
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[Kind][]func(Event))}
}

// On registers fn for events of type T. Several callbacks may be registered
// for the same type; they run in registration order.
//
// Parameters:
//   - m: The mux to register on
//   - fn: Callback invoked with the concrete event value
func On[T Event](m *Mux, fn func(T)) {
	var zero T
	kind := zero.Kind()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[Kind][]func(Event))
	}
	m.handlers[kind] = append(m.handlers[kind], func(ev Event) {
		if v, ok := ev.(T); ok {
			fn(v)
		}
	})
}

// Handle implements Handler.
func (m *Mux) Handle(ev Event) {
	if ev == nil {
		return
	}

	m.mu.RLock()
	fns := m.handlers[ev.Kind()]
	def := m.Default
	m.mu.RUnlock()

	if len(fns) == 0 {
		if def != nil {
			def.Handle(ev)
		}
		return
	}

	for _, fn := range fns {
		fn(ev)
	}
}
