package admin

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps (namespace, name) to entities and their admin configuration.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	admins   map[string]*ModelAdmin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*Entity),
		admins:   make(map[string]*ModelAdmin),
	}
}

func registryKey(namespace, name string) string {
	return strings.ToLower(namespace) + "/" + strings.ToLower(name)
}

// Register adds an entity. a may be nil for entities without an admin.
func (r *Registry) Register(e *Entity, a *ModelAdmin) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(e.Namespace, e.Name)
	r.entities[key] = e
	if a != nil {
		a.entity = e
		a.withActionButtons()
		r.admins[key] = a
	}
}

// Lookup resolves an entity and its admin. Namespace and name are matched
// case-insensitively.
func (r *Registry) Lookup(namespace, name string) (*Entity, *ModelAdmin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := registryKey(namespace, name)
	e, ok := r.entities[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrEntityNotFound, key)
	}
	a, ok := r.admins[key]
	if !ok {
		return e, nil, fmt.Errorf("%w: %s", ErrAdminNotFound, key)
	}
	return e, a, nil
}

// Entities returns all registered entities ordered by key.
func (r *Registry) Entities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
