// Package reflex resolves invocation requests to registered handlers,
// executes them with session-scoped state, and renders the outcome.
package reflex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/louisbranch/reflex/internal/protocol"
	"github.com/louisbranch/reflex/internal/session"
)

// Invocation carries everything one handler execution may touch: the parsed
// target, the explicit arguments, the triggering element's attribute
// snapshot, and the session state view. It is built per request and
// discarded once the response is sent.
type Invocation struct {
	Target  protocol.Target
	Args    []any
	Attrs   map[string]string
	Session *session.View
}

// Attr returns the named element attribute, or "" when absent.
func (inv *Invocation) Attr(key string) string {
	if inv == nil {
		return ""
	}
	return inv.Attrs[key]
}

// HandlerFunc is one registered reflex action.
type HandlerFunc func(ctx context.Context, inv *Invocation) error

// Registry is the explicit mapping from "<HandlerGroup>#<action>" to
// handlers. Names are validated when registered, not when dispatched.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to group#action. Registration fails on empty or
// separator-bearing name parts and on duplicates.
func (r *Registry) Register(group, action string, fn HandlerFunc) error {
	group = strings.TrimSpace(group)
	action = strings.TrimSpace(action)
	if group == "" || action == "" {
		return fmt.Errorf("handler group and action are required")
	}
	if strings.Contains(group, "#") || strings.Contains(action, "#") {
		return fmt.Errorf("handler name parts must not contain %q", "#")
	}
	if fn == nil {
		return fmt.Errorf("handler func is required")
	}

	name := group + "#" + action

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %q is already registered", name)
	}
	r.handlers[name] = fn
	return nil
}

// MustRegister registers a handler and panics on registration failure.
// Intended for wiring at program start.
func (r *Registry) MustRegister(group, action string, fn HandlerFunc) {
	if err := r.Register(group, action, fn); err != nil {
		panic(err)
	}
}

// Lookup resolves a parsed target to its handler.
func (r *Registry) Lookup(target protocol.Target) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[target.String()]
	return fn, ok
}

// Targets lists registered handler names in sorted order.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
