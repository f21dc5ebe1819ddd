package loom

import (
	"reflect"
)

// Capability interfaces. Component types opt into lifecycle behavior by
// implementing these; the definition engine records which capabilities a
// type carries so the runtime never re-inspects it.

// Initializer is invoked once per instance, after every injection point
// has been filled.
//
// Example:
//
//	type Cache struct {
//	    loom.Managed `scope:"application"`
//	    Store Store  `inject:""`
//
//	    warm map[string][]byte
//	}
//
//	func (c *Cache) Init() error {
//	    c.warm = make(map[string][]byte)
//	    return nil
//	}
type Initializer interface {
	Init() error
}

// Disposable is invoked when the owning context is destroyed. Instances
// are disposed in reverse creation order.
type Disposable interface {
	Close() error
}

// PassivationCapable marks instances that can survive context
// passivation. Components in a passivating scope must implement it unless
// they are producer-style.
type PassivationCapable interface {
	PassivationID() string
}

var passivationCapableType = reflect.TypeOf((*PassivationCapable)(nil)).Elem()

// isPassivationCapable reports whether instances of t satisfy
// PassivationCapable, checking both the value and pointer method sets.
func isPassivationCapable(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t.Implements(passivationCapableType) {
		return true
	}
	if t.Kind() != reflect.Pointer {
		return reflect.PointerTo(t).Implements(passivationCapableType)
	}
	return false
}
