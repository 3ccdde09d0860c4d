package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/AustinTapp/FAST"
)

// Factory constructs a node of a registered type.
type Factory func(id string, options ...fast.Option) (fast.Node, error)

// Registry maps type names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds the factory of the type.
func (r *Registry) Register(typ string, f Factory) error {
	if typ == "" || f == nil {
		return fmt.Errorf("invalid registration of type %q", typ)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typ]; ok {
		return fmt.Errorf("type %s is already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

// New constructs a node of the type.
func (r *Registry) New(typ, id string, options ...fast.Option) (fast.Node, error) {
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fast.Configurationf(id, "unknown type %s", typ)
	}
	return f(id, options...)
}

// Types returns the registered types in order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
