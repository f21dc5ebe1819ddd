package loom

import (
	"fmt"
	"io"
	"reflect"

	"github.com/loom-di/loom/internal/meta"
)

// Archive is one deployment unit: candidate types for the definition
// engine, declarative configuration sources, and programmatic producer
// registrations. Archives are assembled with NewArchive and handed to
// the container through WithArchives or a custom Discovery.
type Archive struct {
	// Name identifies the archive in logs and errors.
	Name string

	// Types are the candidate types scanned by the definition engine.
	Types []reflect.Type

	// Configs are the archive's declarative configuration sources.
	Configs []ConfigSource

	producers []producerSpec
}

// ArchiveOption configures an archive under construction.
type ArchiveOption func(*Archive) error

// NewArchive builds a deployment archive. Builder errors are wrapped in
// an ArchiveError naming the archive.
func NewArchive(name string, opts ...ArchiveOption) (Archive, error) {
	if name == "" {
		return Archive{}, ArchiveError{Archive: name, Cause: ErrNameEmpty}
	}
	a := Archive{Name: name}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&a); err != nil {
			return Archive{}, ArchiveError{Archive: name, Cause: err}
		}
	}
	return a, nil
}

// WithTypes adds candidate types to the archive. Use TypeOf to name
// them:
//
//	loom.NewArchive("billing",
//		loom.WithTypes(loom.TypeOf[PaymentService](), loom.TypeOf[SqlGateway]()),
//	)
func WithTypes(types ...reflect.Type) ArchiveOption {
	return func(a *Archive) error {
		for _, t := range types {
			if t == nil {
				return ErrTypeNil
			}
		}
		a.Types = append(a.Types, types...)
		return nil
	}
}

// WithConfigReader attaches a declarative configuration source to the
// archive. The reader is consumed once, during deployment.
func WithConfigReader(name string, r io.Reader) ArchiveOption {
	return func(a *Archive) error {
		if r == nil {
			return fmt.Errorf("config source %q: nil reader", name)
		}
		a.Configs = append(a.Configs, ConfigSource{Name: name, Reader: r})
		return nil
	}
}

// WithFactory registers a producer component backed by a factory
// function. The function's parameters are resolved like injection
// points; it must return (T) or (T, error).
func WithFactory(fn any, opts ...BindOption) ArchiveOption {
	return func(a *Archive) error {
		spec, err := newFactorySpec(fn, opts)
		if err != nil {
			return err
		}
		a.producers = append(a.producers, spec)
		return nil
	}
}

// WithInstance registers a pre-built instance as a component. The
// container treats it as externally owned: no lifecycle callbacks run
// against it.
func WithInstance(v any, opts ...BindOption) ArchiveOption {
	return func(a *Archive) error {
		spec, err := newInstanceSpec(v, opts)
		if err != nil {
			return err
		}
		a.producers = append(a.producers, spec)
		return nil
	}
}

// BindOption customizes a programmatic factory or instance
// registration.
type BindOption func(*bindConfig)

type bindConfig struct {
	name        string
	quals       []Qualifier
	scope       Scope
	contracts   []reflect.Type
	alternative bool
}

// Named assigns the component name used for string-keyed lookups.
func Named(name string) BindOption {
	return func(b *bindConfig) { b.name = name }
}

// Qualified adds qualifiers to the registration.
func Qualified(quals ...Qualifier) BindOption {
	return func(b *bindConfig) { b.quals = append(b.quals, quals...) }
}

// InScope sets the registration's scope. The default is Dependent.
func InScope(s Scope) BindOption {
	return func(b *bindConfig) { b.scope = s }
}

// AsContracts adds contract types beyond the produced type itself.
// Interface contracts must be satisfied by the produced type.
func AsContracts(types ...reflect.Type) BindOption {
	return func(b *bindConfig) { b.contracts = append(b.contracts, types...) }
}

// AsAlternative marks the registration as an alternative. Like any
// alternative it stays dormant until enabled for the deployment.
func AsAlternative() BindOption {
	return func(b *bindConfig) { b.alternative = true }
}

// producerSpec is a pending factory or instance registration. It turns
// into a KindProducer component during deployment.
type producerSpec struct {
	produces reflect.Type
	params   []reflect.Type
	fn       reflect.Value
	hasError bool
	value    any
	bind     bindConfig
}

func newFactorySpec(fn any, opts []BindOption) (producerSpec, error) {
	if fn == nil {
		return producerSpec{}, ErrFactoryNil
	}
	info, err := meta.AnalyzeFactory(fn)
	if err != nil {
		return producerSpec{}, err
	}
	spec := producerSpec{
		produces: info.Produces,
		params:   info.Params,
		fn:       info.Func,
		hasError: info.HasError,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&spec.bind)
		}
	}
	return spec, nil
}

func newInstanceSpec(v any, opts []BindOption) (producerSpec, error) {
	if v == nil {
		return producerSpec{}, ErrInstanceNil
	}
	spec := producerSpec{
		produces: reflect.TypeOf(v),
		value:    v,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&spec.bind)
		}
	}
	return spec, nil
}

// component materializes the spec into a registrable descriptor.
func (s producerSpec) component() (*Component, error) {
	scope := s.bind.scope
	if scope.IsZero() {
		scope = Dependent
	}

	types := []reflect.Type{s.produces}
	for _, contract := range s.bind.contracts {
		if contract == nil {
			return nil, ErrTypeNil
		}
		if contract == s.produces {
			continue
		}
		if contract.Kind() == reflect.Interface {
			if !s.produces.Implements(contract) {
				return nil, DefinitionError{
					Type:   s.produces,
					Reason: fmt.Sprintf("produced type does not implement contract %s", formatType(contract)),
				}
			}
		} else if !s.produces.AssignableTo(contract) {
			return nil, DefinitionError{
				Type:   s.produces,
				Reason: fmt.Sprintf("produced type is not assignable to contract %s", formatType(contract)),
			}
		}
		types = append(types, contract)
	}

	c := &Component{
		Type:               s.produces,
		Kind:               KindProducer,
		Name:               s.bind.name,
		Scope:              scope,
		Qualifiers:         s.bind.quals,
		Types:              types,
		Alternative:        s.bind.alternative,
		PassivationCapable: isPassivationCapable(s.produces),
	}
	for _, p := range s.params {
		c.InjectionPoints = append(c.InjectionPoints, InjectionPoint{
			Owner: c,
			Type:  p,
		})
	}

	if s.value != nil {
		c.target = &instanceTarget{value: s.value}
	} else {
		c.target = &factoryTarget{component: c, fn: s.fn, hasError: s.hasError}
	}
	return c, nil
}
