package loom

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Registry holds every component descriptor of a deployment, indexed by
// contract type and by name. It is written by a single goroutine during
// deployment and sealed before the container starts serving lookups;
// after sealing, writes fail and readers never contend.
type Registry struct {
	mu         sync.RWMutex
	components []*Component
	byType     map[reflect.Type][]*Component
	byName     map[string][]*Component
	sealed     atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type][]*Component),
		byName: make(map[string][]*Component),
	}
}

// Add registers a component. It assigns the component's insertion order,
// indexes its contract types and name, and rejects nil components,
// re-registration, and writes after Seal.
func (r *Registry) Add(c *Component) error {
	if c == nil {
		return ErrComponentNil
	}
	if r.sealed.Load() {
		return ErrRegistrySealed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.components {
		if existing == c {
			return fmt.Errorf("component %s already registered", c)
		}
	}

	c.seq = len(r.components)
	c.enabled = true
	r.components = append(r.components, c)

	for _, t := range c.Types {
		r.byType[t] = append(r.byType[t], c)
	}
	if c.Name != "" {
		r.byName[c.Name] = append(r.byName[c.Name], c)
	}

	return nil
}

// reindexName moves a component under a new name after specialization
// merged the ancestor's name onto it.
func (r *Registry) reindexName(c *Component, old string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old != "" {
		list := r.byName[old]
		for i, existing := range list {
			if existing == c {
				r.byName[old] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(r.byName[old]) == 0 {
			delete(r.byName, old)
		}
	}
	if c.Name != "" {
		r.byName[c.Name] = append(r.byName[c.Name], c)
	}
}

// reindexTypes adds contract types merged onto c by specialization.
func (r *Registry) reindexTypes(c *Component, added []reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range added {
		list := r.byType[t]
		present := false
		for _, existing := range list {
			if existing == c {
				present = true
				break
			}
		}
		if !present {
			r.byType[t] = append(list, c)
		}
	}
}

// All returns every registered component in insertion order.
func (r *Registry) All() []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Component(nil), r.components...)
}

// ByType returns the components exposing t as a contract type, in
// insertion order, including disabled ones. Resolution-level filtering is
// the resolver's concern.
func (r *Registry) ByType(t reflect.Type) []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Component(nil), r.byType[t]...)
}

// ByName returns the components registered under name, in insertion order.
func (r *Registry) ByName(name string) []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Component(nil), r.byName[name]...)
}

// Names returns every name with more than zero holders, mapped to its
// holders. The validation engine uses it for duplicate and shadowing
// checks.
func (r *Registry) Names() map[string][]*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]*Component, len(r.byName))
	for name, list := range r.byName {
		out[name] = append([]*Component(nil), list...)
	}
	return out
}

// Decorators returns registered decorators in insertion order.
func (r *Registry) Decorators() []*Component {
	return r.byKind(KindDecorator)
}

// Interceptors returns registered interceptors in insertion order.
func (r *Registry) Interceptors() []*Component {
	return r.byKind(KindInterceptor)
}

func (r *Registry) byKind(kind ComponentKind) []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Component
	for _, c := range r.components {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// ContractTypes returns every contract type with at least one enabled
// holder. Used for resolution error suggestions.
func (r *Registry) ContractTypes() []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]reflect.Type, 0, len(r.byType))
	for t, list := range r.byType {
		for _, c := range list {
			if c.enabled {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Count returns the number of registered components.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}

// Seal makes the registry read-only. Every component's effective
// qualifier set is computed here, after specialization merging is done,
// so post-seal lookups never mutate a descriptor. Idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	for _, c := range r.components {
		c.effectiveQualifierSet()
	}
	r.mu.Unlock()
	r.sealed.Store(true)
}

// Sealed reports whether the registry is read-only.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}
