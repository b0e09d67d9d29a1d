package messaging

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps message-type discriminators to handlers. Registration
// happens during service startup (effectively single-writer); lookups happen
// continuously from consumer callbacks, so reads take the shared lock.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds handler to messageType. Only one handler may be bound per
// message type; a second registration returns ErrHandlerExists and leaves
// the first binding in place.
func (r *Registry) Register(messageType string, handler Handler) error {
	if messageType == "" {
		return ErrMissingType
	}
	if handler == nil {
		return fmt.Errorf("messaging: nil handler for message type %q", messageType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[messageType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, messageType)
	}

	r.handlers[messageType] = handler
	return nil
}

// Lookup returns the handler bound to messageType, if any.
func (r *Registry) Lookup(messageType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[messageType]
	return h, ok
}

// Types returns the registered message types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handlers)
}
