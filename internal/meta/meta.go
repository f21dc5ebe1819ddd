// Package meta extracts component metadata from Go types. It is the only
// place that inspects user structs: marker embeds and struct tags go in,
// plain TypeMeta descriptors come out, and nothing downstream touches
// reflection over the declaring type again.
package meta

import (
	"fmt"
	"reflect"
)

// Marker types. Embedding one of these in a struct declares the struct as
// a component candidate of the corresponding kind. Component-level
// metadata lives in the struct tag of the embedded marker field.
type (
	// Managed declares a plain managed component.
	Managed struct{}

	// Decorator declares a decorator. Exactly one field must carry a
	// delegate:"" tag.
	Decorator struct{}

	// Interceptor declares an interceptor. Its bindings come from the
	// marker field tag.
	Interceptor struct{}
)

// As declares an additional contract type for the enclosing component.
// The conventional field name is the blank identifier:
//
//	type SqlGateway struct {
//	    loom.Managed `scope:"application"`
//	    _ loom.As[Gateway]
//	}
type As[T any] struct{}

// ContractType reports the type argument. Called reflectively on the zero
// value of an As field, which is why it must be exported.
func (As[T]) ContractType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

var (
	managedType     = reflect.TypeOf(Managed{})
	decoratorType   = reflect.TypeOf(Decorator{})
	interceptorType = reflect.TypeOf(Interceptor{})
	errorType       = reflect.TypeOf((*error)(nil)).Elem()

	metaPkgPath = managedType.PkgPath()
)

// Kind is the marker classification of a candidate type.
type Kind int

const (
	// KindNone means the type carries no marker and is not a candidate.
	KindNone Kind = iota
	KindManaged
	KindDecorator
	KindInterceptor
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindManaged:
		return "Managed"
	case KindDecorator:
		return "Decorator"
	case KindInterceptor:
		return "Interceptor"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Qual is a parsed qualifier declaration.
type Qual struct {
	Name  string
	Value string
}

// FieldMeta describes one injection point field.
type FieldMeta struct {
	Name     string
	Index    []int
	Type     reflect.Type
	Quals    []Qual
	Optional bool
	Delegate bool
}

// TypeMeta is the extracted metadata of one candidate type. All slices
// preserve declaration order.
type TypeMeta struct {
	Type reflect.Type
	Kind Kind

	// Marker tag data.
	ScopeName   string
	Name        string
	Quals       []Qual
	Stereotypes []string
	Bindings    []string
	Alternative bool
	Specializes bool

	// SuperType is the first embedded non-marker struct, the ancestor
	// for specialization. Nil when the type embeds none.
	SuperType reflect.Type

	// SuperChain is the full embedded ancestor chain, nearest first.
	SuperChain []reflect.Type

	// Contracts are additional contract types declared with As fields.
	Contracts []reflect.Type

	// Fields are the injection points, including at most one delegate.
	Fields []FieldMeta
}

// Clone returns a deep enough copy for observers to mutate without
// aliasing the cached original.
func (m *TypeMeta) Clone() *TypeMeta {
	if m == nil {
		return nil
	}
	out := *m
	out.Quals = append([]Qual(nil), m.Quals...)
	out.Stereotypes = append([]string(nil), m.Stereotypes...)
	out.Bindings = append([]string(nil), m.Bindings...)
	out.SuperChain = append([]reflect.Type(nil), m.SuperChain...)
	out.Contracts = append([]reflect.Type(nil), m.Contracts...)
	out.Fields = append([]FieldMeta(nil), m.Fields...)
	for i := range out.Fields {
		out.Fields[i].Quals = append([]Qual(nil), m.Fields[i].Quals...)
		out.Fields[i].Index = append([]int(nil), m.Fields[i].Index...)
	}
	return &out
}

// DelegateField returns the delegate injection point, if any.
func (m *TypeMeta) DelegateField() (FieldMeta, bool) {
	for _, f := range m.Fields {
		if f.Delegate {
			return f, true
		}
	}
	return FieldMeta{}, false
}

// TypeName returns the canonical string form used by declarative
// configuration to reference a type: "pkgpath.Name" for named types,
// reflect's own syntax otherwise.
func TypeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.Kind() == reflect.Pointer {
		return "*" + TypeName(t.Elem())
	}
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}
