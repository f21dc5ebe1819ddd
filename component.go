package loom

import (
	"fmt"
	"reflect"
)

// ComponentKind classifies a component descriptor. The kind decides which
// definition and validation rules apply; cross-cutting capabilities are
// expressed by the capability interfaces in lifecycle.go instead of
// subtyping.
type ComponentKind int

const (
	// KindManaged is a plain managed component discovered from a struct type.
	KindManaged ComponentKind = iota

	// KindDecorator wraps instances of components sharing its delegate
	// contract.
	KindDecorator

	// KindInterceptor contributes to interceptor stacks by binding.
	KindInterceptor

	// KindEnterprise is a component defined by an EnterprisePlugin.
	KindEnterprise

	// KindProducer is a programmatically registered component backed by a
	// factory function or an existing instance. Producer components are
	// exempt from passivation capability checks; the produced value is
	// checked where it is used.
	KindProducer

	// KindBuiltin is a container-supplied component. Builtins never
	// receive decorator or interceptor stacks.
	KindBuiltin
)

// String returns the string representation of the ComponentKind.
func (k ComponentKind) String() string {
	switch k {
	case KindManaged:
		return "Managed"
	case KindDecorator:
		return "Decorator"
	case KindInterceptor:
		return "Interceptor"
	case KindEnterprise:
		return "Enterprise"
	case KindProducer:
		return "Producer"
	case KindBuiltin:
		return "Builtin"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// IsValid checks if the component kind is valid.
func (k ComponentKind) IsValid() bool {
	return k >= KindManaged && k <= KindBuiltin
}

// producerStyle reports whether the kind is exempt from passivation
// capability checks.
func (k ComponentKind) producerStyle() bool {
	return k == KindProducer || k == KindBuiltin
}

// InjectionPoint describes one dependency of a component: a field that the
// injection target fills during instantiation, or the delegate slot of a
// decorator.
type InjectionPoint struct {
	Owner      *Component
	Type       reflect.Type
	Qualifiers []Qualifier

	// FieldName and FieldIndex locate the field on the declaring struct.
	// Producer components resolve constructor parameters instead and
	// leave FieldIndex nil.
	FieldName  string
	FieldIndex []int

	// Optional injection points tolerate unsatisfied resolution; the
	// field stays zero. Ambiguity is still an error.
	Optional bool

	// Delegate marks the delegate slot of a decorator. Delegate points on
	// any other kind are a configuration error.
	Delegate bool
}

// String returns a readable location, e.g. "PaymentService.Gateway".
func (ip InjectionPoint) String() string {
	owner := "<nil>"
	if ip.Owner != nil {
		owner = formatType(ip.Owner.Type)
	}
	if ip.FieldName != "" {
		return owner + "." + ip.FieldName
	}
	return fmt.Sprintf("%s(%s)", owner, formatType(ip.Type))
}

// Component is the metadata descriptor for one registered component. It is
// a plain data struct: every fact the container needs at runtime is
// extracted up front, so no reflection over the declaring type happens
// after definition.
type Component struct {
	// Type is the declaring struct type, or the produced type for
	// producer components.
	Type reflect.Type

	// Kind classifies the descriptor.
	Kind ComponentKind

	// Name is the component name for name-based lookup, empty when the
	// component is unnamed.
	Name string

	// Scope is the component's lifecycle scope. Never zero after
	// definition; the default is Dependent.
	Scope Scope

	// Qualifiers are the declared qualifiers, in declaration order, plus
	// any merged in by stereotypes or specialization.
	Qualifiers []Qualifier

	// Types is the contract type closure: every type the component can
	// be resolved by.
	Types []reflect.Type

	// Stereotypes are the names of stereotypes applied to the component.
	Stereotypes []string

	// Alternative marks the component as a candidate that only resolves
	// when enabled for the deployment.
	Alternative bool

	// Specializes marks the component as a specializer of its embedded
	// ancestor type.
	Specializes bool

	// Ancestors is the embedded ancestor chain of the declaring type,
	// nearest first. Specialization resolves against the first entry.
	Ancestors []reflect.Type

	// Bindings are interceptor bindings: for interceptors the bindings
	// they serve, for other kinds the bindings that select interceptors.
	Bindings []string

	// DelegateType and DelegateQualifiers describe a decorator's delegate
	// injection point contract. Zero for non-decorators.
	DelegateType       reflect.Type
	DelegateQualifiers []Qualifier

	// InjectionPoints are the component's dependencies.
	InjectionPoints []InjectionPoint

	// PassivationCapable records whether instances can survive context
	// passivation. Set from the capability interface during definition.
	PassivationCapable bool

	seq       int  // registry insertion order, assigned by Add
	enabled   bool // false once specialized away or left out of the enabled alternatives
	effective qualifierSet

	target           InjectionTarget
	decoratorStack   []*Component
	interceptorStack []*Component
}

// String identifies the component in logs and error messages.
func (c *Component) String() string {
	if c == nil {
		return "<nil>"
	}
	if c.Name != "" {
		return fmt.Sprintf("%s %s %q", c.Kind, formatType(c.Type), c.Name)
	}
	return fmt.Sprintf("%s %s", c.Kind, formatType(c.Type))
}

// Enabled reports whether the component participates in resolution.
// Specialized components and alternatives that were not enabled for the
// deployment report false.
func (c *Component) Enabled() bool {
	return c.enabled
}

// Target returns the component's injection target.
func (c *Component) Target() InjectionTarget {
	return c.target
}

// SetTarget replaces the injection target. Definition-time extension
// observers use this; after the registry is sealed the target is fixed.
func (c *Component) SetTarget(t InjectionTarget) {
	c.target = t
}

// Decorators returns the decorator stack computed during validation,
// innermost first. Nil before validation.
func (c *Component) Decorators() []*Component {
	return c.decoratorStack
}

// Interceptors returns the interceptor stack computed during validation,
// in enabled-list order. Nil before validation.
func (c *Component) Interceptors() []*Component {
	return c.interceptorStack
}

// HasType reports whether t is among the component's contract types.
func (c *Component) HasType(t reflect.Type) bool {
	for _, ct := range c.Types {
		if ct == t {
			return true
		}
	}
	return false
}

// key returns a stable identity string for graph nodes and diagnostics.
func (c *Component) key() string {
	return fmt.Sprintf("%s#%d", formatType(c.Type), c.seq)
}

// effectiveQualifierSet lazily computes the effective qualifier set.
// Specialization merging invalidates the cache whenever Qualifiers grow,
// so callers always see the merged view. All mutation happens on the
// deployment goroutine: Registry.Seal computes the set for every
// component, so concurrent post-seal callers only read.
func (c *Component) effectiveQualifierSet() qualifierSet {
	if c.effective == nil {
		c.effective = effectiveQualifiers(c.Qualifiers)
	}
	return c.effective
}

// invalidateQualifiers drops the cached effective set after a merge.
func (c *Component) invalidateQualifiers() {
	c.effective = nil
}
