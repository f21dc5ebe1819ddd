package loom

import (
	"fmt"
	"reflect"
	"sync"
)

// Resolver matches contract types and qualifiers against the registry and
// applies the precedence rules: enabled alternatives first, then
// specialization, then nothing left to break the tie.
type Resolver struct {
	registry *Registry

	// alternatives holds the declaring types enabled for this
	// deployment. An alternative component not listed here never
	// resolves.
	alternatives map[reflect.Type]bool

	// decoratorOrder and interceptorOrder are the enabled lists. A
	// decorator or interceptor not listed is disabled and joins no stack.
	decoratorOrder   []reflect.Type
	interceptorOrder []reflect.Type

	// cache memoizes resolution after the registry seals. Safe because a
	// sealed registry cannot change what a key resolves to.
	cache sync.Map
}

type resolveKey struct {
	t     reflect.Type
	quals string
}

type resolveEntry struct {
	component *Component
	err       error
}

// NewResolver creates a resolver over the registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{
		registry:     registry,
		alternatives: make(map[reflect.Type]bool),
	}
}

// EnableAlternative marks a declaring type's alternative components as
// enabled for this deployment.
func (r *Resolver) EnableAlternative(t reflect.Type) {
	r.alternatives[t] = true
}

// SetDecoratorOrder installs the enabled decorator list. Position in the
// list is stack order, innermost first.
func (r *Resolver) SetDecoratorOrder(types []reflect.Type) {
	r.decoratorOrder = types
}

// SetInterceptorOrder installs the enabled interceptor list.
func (r *Resolver) SetInterceptorOrder(types []reflect.Type) {
	r.interceptorOrder = types
}

// Resolve returns the single component matching the contract type and
// qualifiers, applying alternative precedence and specialization
// elimination before declaring the request ambiguous.
func (r *Resolver) Resolve(t reflect.Type, quals ...Qualifier) (*Component, error) {
	if t == nil {
		return nil, fmt.Errorf("resolve: %w", ErrTypeNil)
	}

	var key resolveKey
	sealed := r.registry.Sealed()
	if sealed {
		key = resolveKey{t: t, quals: qualifierCacheKey(quals)}
		if cached, ok := r.cache.Load(key); ok {
			entry := cached.(resolveEntry)
			return entry.component, entry.err
		}
	}

	c, err := r.resolve(t, quals)
	if sealed {
		r.cache.Store(key, resolveEntry{component: c, err: err})
	}
	return c, err
}

func (r *Resolver) resolve(t reflect.Type, quals []Qualifier) (*Component, error) {
	candidates := r.Candidates(t, quals...)
	winners := r.tieBreak(candidates)

	switch len(winners) {
	case 1:
		return winners[0], nil
	case 0:
		return nil, UnsatisfiedResolutionError{
			Type:       t,
			Qualifiers: quals,
			Available:  r.registry.ContractTypes(),
		}
	default:
		return nil, AmbiguousResolutionError{
			Type:       t,
			Qualifiers: quals,
			Candidates: winners,
		}
	}
}

// Candidates returns the enabled components matching the contract type
// and qualifiers, before precedence tie-breaking. Programmatic iteration
// over all matches uses this.
func (r *Resolver) Candidates(t reflect.Type, quals ...Qualifier) []*Component {
	if t == nil {
		return nil
	}

	var out []*Component
	for _, c := range r.registry.ByType(t) {
		if !r.selectable(c) {
			continue
		}
		if !matchesQualifiers(c.effectiveQualifierSet(), quals) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ResolveName returns the single component registered under name,
// applying the same precedence rules as type resolution.
func (r *Resolver) ResolveName(name string) (*Component, error) {
	if name == "" {
		return nil, fmt.Errorf("resolve name: %w", ErrNameEmpty)
	}

	var candidates []*Component
	for _, c := range r.registry.ByName(name) {
		if r.selectable(c) {
			candidates = append(candidates, c)
		}
	}
	winners := r.tieBreak(candidates)

	switch len(winners) {
	case 1:
		return winners[0], nil
	case 0:
		return nil, NameNotFoundError{Name: name}
	default:
		return nil, NameConflictError{Name: name, Candidates: winners}
	}
}

// selectable reports whether a component participates in resolution:
// enabled, not a decoration artifact, and if an alternative, enabled
// for this deployment. Decorators and interceptors are resolved through
// their dedicated stacks, never by contract type.
func (r *Resolver) selectable(c *Component) bool {
	if !c.enabled {
		return false
	}
	if c.Kind == KindDecorator || c.Kind == KindInterceptor {
		return false
	}
	if c.Alternative && !r.alternatives[c.Type] {
		return false
	}
	return true
}

// tieBreak applies default-component displacement, then alternative
// precedence, then specialization elimination.
func (r *Resolver) tieBreak(candidates []*Component) []*Component {
	if len(candidates) < 2 {
		return candidates
	}

	candidates = filterDefaulted(candidates)
	if len(candidates) < 2 {
		return candidates
	}
	candidates = filterAlternatives(candidates)
	if len(candidates) < 2 {
		return candidates
	}
	return filterSpecialized(candidates)
}

// filterDefaulted drops container-supplied builtin components when an
// application component competes for the same contract. Registering
// your own *slog.Logger replaces the container default rather than
// clashing with it.
func filterDefaulted(candidates []*Component) []*Component {
	var own []*Component
	for _, c := range candidates {
		if c.Kind != KindBuiltin {
			own = append(own, c)
		}
	}
	if len(own) == 0 || len(own) == len(candidates) {
		return candidates
	}
	return own
}

// filterAlternatives restricts the set to alternatives when any are
// present. Every alternative here is already deployment-enabled.
func filterAlternatives(candidates []*Component) []*Component {
	var alternatives []*Component
	for _, c := range candidates {
		if c.Alternative {
			alternatives = append(alternatives, c)
		}
	}
	if len(alternatives) == 0 {
		return candidates
	}
	return alternatives
}

// filterSpecialized drops candidates whose declaring type is the direct
// specialization target of another candidate in the set. Chains resolve
// link by link: each specializer eliminates its own ancestor.
func filterSpecialized(candidates []*Component) []*Component {
	specialized := make(map[reflect.Type]bool)
	for _, c := range candidates {
		if c.Specializes && len(c.Ancestors) > 0 {
			specialized[c.Ancestors[0]] = true
		}
	}
	if len(specialized) == 0 {
		return candidates
	}

	var out []*Component
	for _, c := range candidates {
		if !specialized[c.Type] {
			out = append(out, c)
		}
	}
	return out
}

// DecoratorsFor returns the decorator stack for a component: enabled
// decorators whose delegate contract and qualifiers the component
// satisfies, in enabled-list order, innermost first.
func (r *Resolver) DecoratorsFor(c *Component) []*Component {
	if c.Kind == KindDecorator || c.Kind == KindInterceptor || c.Kind == KindBuiltin {
		return nil
	}

	var stack []*Component
	for _, t := range r.decoratorOrder {
		dec := r.findByDeclaringType(KindDecorator, t)
		if dec == nil || !dec.enabled {
			continue
		}
		if !c.HasType(dec.DelegateType) {
			continue
		}
		if !containsAllQualifiers(c.effectiveQualifierSet(), dec.DelegateQualifiers) {
			continue
		}
		stack = append(stack, dec)
	}
	return stack
}

// InterceptorsFor returns the interceptor stack for a binding set:
// enabled interceptors whose bindings are all present, in enabled-list
// order. An empty binding set matches nothing.
func (r *Resolver) InterceptorsFor(bindings []string) []*Component {
	if len(bindings) == 0 {
		return nil
	}
	have := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		have[b] = true
	}

	var stack []*Component
	for _, t := range r.interceptorOrder {
		ic := r.findByDeclaringType(KindInterceptor, t)
		if ic == nil || !ic.enabled || len(ic.Bindings) == 0 {
			continue
		}
		matched := true
		for _, b := range ic.Bindings {
			if !have[b] {
				matched = false
				break
			}
		}
		if matched {
			stack = append(stack, ic)
		}
	}
	return stack
}

func (r *Resolver) findByDeclaringType(kind ComponentKind, t reflect.Type) *Component {
	for _, c := range r.registry.ByType(t) {
		if c.Kind == kind && c.Type == t {
			return c
		}
	}
	return nil
}
