package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"avaneesh/vwtp-go/pkg/can"
)

var ErrNoRoute = errors.New("no handler for CAN id")

// Handler consumes frames received on one CAN id
type Handler interface {
	OnFrame(ctx context.Context, frame can.Frame) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, frame can.Frame) error

// OnFrame calls f(ctx, frame)
func (f HandlerFunc) OnFrame(ctx context.Context, frame can.Frame) error {
	return f(ctx, frame)
}

// Router routes frames to handlers based on CAN id
type Router struct {
	handlers map[uint32]Handler // Key: CAN id
	mu       sync.RWMutex
}

// NewRouter creates a new router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[uint32]Handler),
	}
}

// AddHandler registers h for frames on id
func (r *Router) AddHandler(id uint32, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[id]; exists {
		return fmt.Errorf("handler for CAN id 0x%03X already exists", id)
	}

	r.handlers[id] = h
	return nil
}

// Route delivers frame to the handler registered for its id
func (r *Router) Route(ctx context.Context, frame can.Frame) error {
	r.mu.RLock()
	h, exists := r.handlers[frame.ID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w 0x%03X", ErrNoRoute, frame.ID)
	}

	return h.OnFrame(ctx, frame)
}

// HandlerCount returns the number of registered ids
func (r *Router) HandlerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handlers)
}

// Clear removes all handlers
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = make(map[uint32]Handler)
}
