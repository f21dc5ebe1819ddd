package loom

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/loom-di/loom/internal/graph"
	"github.com/loom-di/loom/internal/meta"
)

// validator is the deployment validation engine. It runs once, after
// specialization resolution and the after-discovery round, and walks
// decorators first, then interceptors, then everything else: decoration
// stacks are computed and cached on the descriptors before the
// components that carry them are checked.
type validator struct {
	c *Container
}

func (v *validator) run() error {
	if err := v.checkConfigReferences(); err != nil {
		return err
	}

	all := v.c.registry.All()

	for _, c := range all {
		if c.Kind == KindDecorator {
			if err := v.validateDecorator(c); err != nil {
				return err
			}
		}
	}
	for _, c := range all {
		if c.Kind == KindInterceptor {
			if err := v.validateInterceptor(c); err != nil {
				return err
			}
		}
	}
	for _, c := range all {
		if c.Kind == KindDecorator || c.Kind == KindInterceptor {
			continue
		}
		if err := v.validateComponent(c); err != nil {
			return err
		}
	}

	if err := v.checkDependentCycles(); err != nil {
		return err
	}
	return v.checkNames()
}

// checkConfigReferences verifies that every type string in the
// declarative configuration matched a discovered type. Unmatched
// references are deployment mistakes, not noise.
func (v *validator) checkConfigReferences() error {
	cfg := v.c.config
	if cfg == nil {
		return nil
	}

	for _, typeName := range cfg.unmatched() {
		return ConfigurationError{
			Reason: fmt.Sprintf("configuration overrides unknown type %q", typeName),
		}
	}

	known := make(map[string]bool, v.c.registry.Count())
	for _, c := range v.c.registry.All() {
		known[meta.TypeName(c.Type)] = true
	}
	lists := []struct {
		section string
		entries []string
	}{
		{"alternatives", cfg.alternatives},
		{"decorators", cfg.decorators},
		{"interceptors", cfg.interceptors},
	}
	for _, list := range lists {
		for _, typeName := range list.entries {
			if !known[typeName] {
				return ConfigurationError{
					Reason: fmt.Sprintf("%s entry references unknown type %q", list.section, typeName),
				}
			}
		}
	}
	return nil
}

func (v *validator) validateDecorator(c *Component) error {
	delegates := 0
	for _, ip := range c.InjectionPoints {
		if ip.Delegate {
			delegates++
		}
	}
	if delegates == 0 {
		return ConfigurationError{Component: c, Reason: "decorator has no delegate injection point"}
	}
	return v.checkInjectionPoints(c)
}

func (v *validator) validateInterceptor(c *Component) error {
	if len(c.Bindings) == 0 {
		return ConfigurationError{Component: c, Reason: "interceptor declares no bindings"}
	}
	return v.checkInjectionPoints(c)
}

func (v *validator) validateComponent(c *Component) error {
	if c.Kind != KindBuiltin {
		c.decoratorStack = v.c.resolver.DecoratorsFor(c)
		c.interceptorStack = v.c.resolver.InterceptorsFor(c.Bindings)
	}

	if c.Scope.Passivating && !c.Kind.producerStyle() && !c.PassivationCapable {
		return ConfigurationError{
			Component: c,
			Reason:    fmt.Sprintf("scope %s passivates but the component declares no passivation identity", c.Scope.Name),
		}
	}

	return v.checkInjectionPoints(c)
}

// checkInjectionPoints resolves every injection point of one component.
// Delegate points must sit on decorators; unsatisfied points fail unless
// optional; ambiguous points always fail. For passivating owners each
// resolved dependency must itself survive passivation.
func (v *validator) checkInjectionPoints(c *Component) error {
	for _, ip := range c.InjectionPoints {
		if ip.Delegate {
			if c.Kind != KindDecorator {
				return ConfigurationError{
					Component: c,
					Reason:    fmt.Sprintf("delegate injection point %s on a component that is not a decorator", ip),
				}
			}
			continue
		}

		dep, err := v.c.resolver.Resolve(ip.Type, ip.Qualifiers...)
		if err != nil {
			var unsat UnsatisfiedResolutionError
			if ip.Optional && errors.As(err, &unsat) {
				continue
			}
			return fmt.Errorf("injection point %s: %w", ip, err)
		}

		if c.Scope.Passivating && !passivationSafe(dep) {
			return ConfigurationError{
				Component: c,
				Reason:    fmt.Sprintf("injection point %s resolves to %s, which cannot survive passivation", ip, dep),
			}
		}
	}
	return nil
}

// passivationSafe reports whether a dependency can live inside a
// passivating component: normal-scoped references are re-resolved after
// activation, producer-style components are exempt, everything else must
// declare a passivation identity.
func passivationSafe(c *Component) bool {
	return c.Scope.Normal || c.Kind.producerStyle() || c.PassivationCapable
}

// checkDependentCycles rejects dependency cycles made entirely of
// pseudo-scoped components. A normal-scoped member breaks a loop because
// its clients hold a context-mediated reference rather than the instance
// itself.
func (v *validator) checkDependentCycles() error {
	g := graph.New()

	pseudo := func(c *Component) bool {
		return c.Enabled() && !c.Scope.Normal && c.Kind != KindDecorator && c.Kind != KindInterceptor
	}

	all := v.c.registry.All()
	for _, c := range all {
		if pseudo(c) {
			g.AddNode(c.key(), c.String())
		}
	}
	for _, c := range all {
		if !pseudo(c) {
			continue
		}
		for _, ip := range c.InjectionPoints {
			if ip.Delegate {
				continue
			}
			dep, err := v.c.resolver.Resolve(ip.Type, ip.Qualifiers...)
			if err != nil {
				continue
			}
			if pseudo(dep) {
				g.AddEdge(c.key(), dep.key())
			}
		}
	}

	if cycle := g.FindCycle(); cycle != nil {
		return CycleError{Path: cycle}
	}
	return nil
}

// checkNames enforces the string-keyed namespace rules: a shared name
// must tie-break to at most one candidate, and no name may be a strict
// dot-prefix of another.
func (v *validator) checkNames() error {
	held := v.c.registry.Names()

	var names []string
	for name, holders := range held {
		enabled := false
		for _, c := range holders {
			if c.Enabled() {
				enabled = true
				break
			}
		}
		if enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if len(held[name]) < 2 {
			continue
		}
		if _, err := v.c.resolver.ResolveName(name); err != nil {
			var missing NameNotFoundError
			if errors.As(err, &missing) {
				continue
			}
			return err
		}
	}

	for _, name := range names {
		for _, other := range names {
			if other != name && strings.HasPrefix(other, name+".") {
				return NameShadowingError{Name: other, Shadows: name}
			}
		}
	}
	return nil
}
