package channel

import (
	"fmt"
	"sync"

	"comstack/cantp-go/pkg/link"
	"comstack/cantp-go/pkg/types"
)

// FrameHandler receives the frames routed to it
type FrameHandler interface {
	OnFrame(frame *link.Frame) error
}

// FrameHandlerFunc adapts a function to FrameHandler
type FrameHandlerFunc func(frame *link.Frame) error

// OnFrame calls f
func (f FrameHandlerFunc) OnFrame(frame *link.Frame) error {
	return f(frame)
}

// Router routes received frames to handlers by CAN identifier.
// Frames without a handler go to the fallback handler when one is set.
type Router struct {
	handlers map[types.CANID]FrameHandler
	fallback FrameHandler
	mu       sync.RWMutex
}

// NewRouter creates a new router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[types.CANID]FrameHandler),
	}
}

// AddHandler registers handler for frames with identifier id
func (r *Router) AddHandler(id types.CANID, handler FrameHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[id]; exists {
		return fmt.Errorf("identifier %s: %w", id, ErrDuplicateRoute)
	}

	r.handlers[id] = handler
	return nil
}

// RemoveHandler removes the handler of id
func (r *Router) RemoveHandler(id types.CANID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, id)
}

// SetFallback sets the handler for unrouted frames, nil drops them
func (r *Router) SetFallback(handler FrameHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fallback = handler
}

// Route delivers frame to its handler.
// Returns ErrNoRoute when neither a handler nor a fallback exists.
func (r *Router) Route(frame *link.Frame) error {
	r.mu.RLock()
	handler, exists := r.handlers[frame.ID]
	if !exists {
		handler = r.fallback
	}
	r.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("identifier %s: %w", frame.ID, ErrNoRoute)
	}
	return handler.OnFrame(frame)
}

// GetHandler returns the handler of id
func (r *Router) GetHandler(id types.CANID) (FrameHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, exists := r.handlers[id]
	return handler, exists
}

// GetHandlerCount returns the number of registered identifiers
func (r *Router) GetHandlerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handlers)
}

// Clear removes all handlers and the fallback
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = make(map[types.CANID]FrameHandler)
	r.fallback = nil
}
