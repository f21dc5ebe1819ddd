package loom

import "reflect"

// checkSpecializations resolves every specialization link after all
// candidates are registered: it verifies each specializer has a
// registered, non-trivial ancestor, rejects two specializers sharing one
// ancestor, merges the ancestor's contract types, qualifiers and name
// onto the specializer, and disables the ancestor so it is absent from
// independent resolution.
//
// Specializers that are alternatives not enabled for the deployment are
// skipped entirely; a disabled alternative must not knock out its
// ancestor.
func checkSpecializations(registry *Registry, enabled func(*Component) bool) error {
	all := registry.All()

	specializers := make([]*Component, 0)
	ancestorOf := make(map[*Component]*Component)
	specializerOf := make(map[reflect.Type]reflect.Type)

	for _, c := range all {
		if !c.Specializes {
			continue
		}
		if c.Alternative && !enabled(c) {
			continue
		}

		if len(c.Ancestors) == 0 {
			return SpecializationError{
				Type:   c.Type,
				Reason: "specializing component must embed the type it specializes",
			}
		}
		ancestorType := c.Ancestors[0]

		if prior, ok := specializerOf[ancestorType]; ok {
			return InconsistentSpecializationError{
				Ancestor:     ancestorType,
				Specializers: []reflect.Type{prior, c.Type},
			}
		}
		specializerOf[ancestorType] = c.Type

		ancestor := findDeclaring(registry, ancestorType)
		if ancestor == nil {
			return SpecializationError{
				Type:   c.Type,
				Reason: "embedded ancestor " + formatType(ancestorType) + " is not a registered component",
			}
		}

		specializers = append(specializers, c)
		ancestorOf[c] = ancestor
	}

	// Merge most-general-first so chained specialization carries
	// metadata all the way up.
	merged := make(map[*Component]bool)
	var merge func(c *Component) error
	merge = func(c *Component) error {
		if merged[c] {
			return nil
		}
		merged[c] = true

		ancestor, ok := ancestorOf[c]
		if !ok {
			return nil
		}
		if err := merge(ancestor); err != nil {
			return err
		}

		var addedTypes []reflect.Type
		for _, t := range ancestor.Types {
			if !c.HasType(t) {
				c.Types = append(c.Types, t)
				addedTypes = append(addedTypes, t)
			}
		}
		if len(addedTypes) > 0 {
			registry.reindexTypes(c, addedTypes)
		}

		// The specializer stands in at every injection point the ancestor
		// served, so an implicit Default on either side survives the union
		// of the two declared sets.
		if !hasExplicitQualifier(c.Qualifiers) {
			c.Qualifiers = append(c.Qualifiers, Default)
		}
		inherited := ancestor.Qualifiers
		if !hasExplicitQualifier(inherited) {
			inherited = []Qualifier{Default}
		}
		c.Qualifiers = mergeQualifiers(c.Qualifiers, inherited)
		c.invalidateQualifiers()

		if ancestor.Name != "" {
			if c.Name != "" && c.Name != ancestor.Name {
				return SpecializationError{
					Type:   c.Type,
					Reason: "specializer may not declare a name, it inherits " + `"` + ancestor.Name + `"` + " from its ancestor",
				}
			}
			if c.Name == "" {
				c.Name = ancestor.Name
				registry.reindexName(c, "")
			}
		}

		ancestor.enabled = false
		return nil
	}

	for _, c := range specializers {
		if err := merge(c); err != nil {
			return err
		}
	}
	return nil
}

// findDeclaring returns the component declared by exactly t, not merely
// exposing t as a contract.
func findDeclaring(registry *Registry, t reflect.Type) *Component {
	for _, c := range registry.ByType(t) {
		if c.Type == t {
			return c
		}
	}
	return nil
}
