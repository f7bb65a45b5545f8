package kwp

import (
	"errors"
	"fmt"
	"sync"
)

// Key selects a handler by service id and parameter
type Key struct {
	Opcode    byte
	Parameter byte
}

func (k Key) String() string {
	return fmt.Sprintf("0x%02X/0x%02X", k.Opcode, k.Parameter)
}

// Handler answers one kind of diagnostic request
type Handler interface {
	Handle(req Request) (*Response, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(req Request) (*Response, error)

// Handle calls f(req)
func (f HandlerFunc) Handle(req Request) (*Response, error) {
	return f(req)
}

// Dispatcher routes requests to handlers keyed by (opcode, parameter)
type Dispatcher struct {
	handlers map[Key]Handler
	mu       sync.RWMutex
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Key]Handler)}
}

// Register installs h for (opcode, param), replacing any previous handler
func (d *Dispatcher) Register(opcode, param byte, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[Key{opcode, param}] = h
}

// Keys returns the registered keys
func (d *Dispatcher) Keys() []Key {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]Key, 0, len(d.handlers))
	for k := range d.handlers {
		keys = append(keys, k)
	}
	return keys
}

// Dispatch runs the handler for req.
// A handler returning *Error produces a negative response rather than an error.
func (d *Dispatcher) Dispatch(req Request) (*Response, error) {
	d.mu.RLock()
	h, ok := d.handlers[Key{req.Opcode, req.Parameter}]
	d.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnhandledRequest, Key{req.Opcode, req.Parameter})
	}

	resp, err := h.Handle(req)
	if err != nil {
		var nrc *Error
		if errors.As(err, &nrc) {
			return NewNegativeResponse(req.Opcode, nrc.Code), nil
		}
		return nil, err
	}
	return resp, nil
}
