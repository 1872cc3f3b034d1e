// Package eventbus provides the in-process implementation of the domain
// event bus. Core components publish every state transition here; the
// WebSocket hub subscribes. The failure notifier is called directly by the
// run lifecycle, not through this bus.
package eventbus

import (
	"sync"

	"github.com/Andyyyy64/opentiger/pkg/domain"
)

// InProcessEventBus dispatches events synchronously to registered handlers.
// Handler snapshots are taken under the read lock but invoked outside it,
// so a handler may subscribe without deadlocking.
type InProcessEventBus struct {
	handlers    map[domain.EventType][]domain.EventHandler
	allHandlers []domain.EventHandler
	mu          sync.RWMutex
	closed      bool
}

// New creates a new in-process event bus.
func New() *InProcessEventBus {
	return &InProcessEventBus{
		handlers: make(map[domain.EventType][]domain.EventHandler),
	}
}

// Publish dispatches an event to handlers for its type, then to global
// handlers. Publishing on a closed bus is a no-op.
func (b *InProcessEventBus) Publish(event domain.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	typed := make([]domain.EventHandler, len(b.handlers[event.EventType()]))
	copy(typed, b.handlers[event.EventType()])
	global := make([]domain.EventHandler, len(b.allHandlers))
	copy(global, b.allHandlers)
	b.mu.RUnlock()

	for _, handler := range typed {
		handler(event)
	}
	for _, handler := range global {
		handler(event)
	}
}

// Subscribe registers a handler for a specific event type.
func (b *InProcessEventBus) Subscribe(eventType domain.EventType, handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *InProcessEventBus) SubscribeAll(handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, handler)
}

// Close stops dispatch. Subsequent publishes are dropped.
func (b *InProcessEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// HandlerCount returns the total number of registered handlers.
func (b *InProcessEventBus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := len(b.allHandlers)
	for _, handlers := range b.handlers {
		count += len(handlers)
	}
	return count
}

// Compile-time verification
var _ domain.EventBus = (*InProcessEventBus)(nil)
