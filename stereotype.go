package loom

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Stereotype bundles recurring component metadata under a name: a default
// scope, implicit qualifiers, interceptor bindings, an alternative flag,
// and name-defaulting. Stereotypes can compose other stereotypes.
type Stereotype struct {
	Name         string
	DefaultScope Scope
	Qualifiers   []Qualifier
	Bindings     []string
	Alternative  bool

	// Named components get a defaulted name (the decapitalized type
	// name) when they declare none of their own.
	Named bool

	// Stereotypes composes other stereotypes by name.
	Stereotypes []string
}

// ModelStereotype is registered before any discovered stereotype: a named,
// request-scoped component intended as the presentation-layer default.
var ModelStereotype = Stereotype{
	Name:         "model",
	DefaultScope: RequestScoped,
	Named:        true,
}

// stereotypeSet holds the checked stereotype definitions of a deployment.
type stereotypeSet struct {
	byName map[string]Stereotype
	order  []string
}

func newStereotypeSet() *stereotypeSet {
	return &stereotypeSet{byName: make(map[string]Stereotype)}
}

// register adds a definition. Re-registering a name is an error; builtins
// register first, so a discovered stereotype cannot displace one.
func (s *stereotypeSet) register(st Stereotype) error {
	if st.Name == "" {
		return fmt.Errorf("stereotype name cannot be empty")
	}
	if _, exists := s.byName[st.Name]; exists {
		return fmt.Errorf("stereotype %q already registered", st.Name)
	}
	s.byName[st.Name] = st
	s.order = append(s.order, st.Name)
	return nil
}

// check validates every registered definition: composed stereotype names
// must exist and composition must be acyclic.
func (s *stereotypeSet) check() error {
	for _, name := range s.order {
		if err := s.walk(name, map[string]bool{}); err != nil {
			return err
		}
	}
	return nil
}

func (s *stereotypeSet) walk(name string, visiting map[string]bool) error {
	if visiting[name] {
		return fmt.Errorf("stereotype composition cycle through %q", name)
	}
	st, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("unknown stereotype %q", name)
	}

	visiting[name] = true
	defer delete(visiting, name)

	for _, composed := range st.Stereotypes {
		if err := s.walk(composed, visiting); err != nil {
			return err
		}
	}
	return nil
}

// stereotypeEffect is the flattened contribution of a component's
// stereotypes.
type stereotypeEffect struct {
	defaultScopes []Scope
	qualifiers    []Qualifier
	bindings      []string
	alternative   bool
	named         bool
}

// flatten resolves names transitively, depth-first in declaration order.
// check has already run, so unknown names and cycles cannot occur here
// for registered components; unknown names still error for observer-built
// metadata that skipped checking.
func (s *stereotypeSet) flatten(names []string) (stereotypeEffect, error) {
	var effect stereotypeEffect
	seen := make(map[string]bool)

	var apply func(name string) error
	apply = func(name string) error {
		if seen[name] {
			return nil
		}
		seen[name] = true

		st, ok := s.byName[name]
		if !ok {
			return fmt.Errorf("unknown stereotype %q", name)
		}

		for _, composed := range st.Stereotypes {
			if err := apply(composed); err != nil {
				return err
			}
		}

		if !st.DefaultScope.IsZero() {
			duplicate := false
			for _, existing := range effect.defaultScopes {
				if existing == st.DefaultScope {
					duplicate = true
					break
				}
			}
			if !duplicate {
				effect.defaultScopes = append(effect.defaultScopes, st.DefaultScope)
			}
		}
		effect.qualifiers = mergeQualifiers(effect.qualifiers, st.Qualifiers)
		effect.bindings = mergeStrings(effect.bindings, st.Bindings)
		effect.alternative = effect.alternative || st.Alternative
		effect.named = effect.named || st.Named
		return nil
	}

	for _, name := range names {
		if err := apply(name); err != nil {
			return stereotypeEffect{}, err
		}
	}
	return effect, nil
}

func mergeStrings(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range src {
		if !seen[v] {
			dst = append(dst, v)
			seen[v] = true
		}
	}
	return dst
}

// defaultComponentName returns the default name for a type: the simple
// type name with its first rune decapitalized.
func defaultComponentName(typeName string) string {
	if typeName == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(typeName)
	return string(unicode.ToLower(r)) + typeName[size:]
}
