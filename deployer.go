package loom

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/loom-di/loom/internal/meta"
)

// deployer drives one deployment pass: a strictly sequential state
// machine over the pipeline phases. Any step error aborts the pass as a
// DeploymentError carrying the failing phase; a failed deployment is
// never retried.
type deployer struct {
	c *Container

	archives           []Archive
	additionalTypes    []reflect.Type
	pendingStereotypes []Stereotype
}

func (d *deployer) run(ctx context.Context) error {
	steps := []struct {
		phase Phase
		run   func(context.Context) error
	}{
		{PhaseExtensionsLoaded, d.loadExtensions},
		{PhaseBootstrapRegistered, d.registerBootstrap},
		{PhaseBeforeDiscoveryFired, d.fireBeforeDiscovery},
		{PhaseConfigDeployed, d.deployConfig},
		{PhaseStereotypesChecked, d.checkStereotypes},
		{PhaseDefaultsConfigured, d.configureDefaults},
		{PhaseClasspathDeployed, d.deployClasspath},
		{PhaseAdditionalTypesDeployed, d.deployAdditionalTypes},
		{PhaseSpecializationsChecked, d.checkSpecializations},
		{PhaseAfterDiscoveryFired, d.fireAfterDiscovery},
		{PhaseValidated, d.validate},
		{PhaseAfterValidationFired, d.fireAfterValidation},
	}

	d.c.log.Info("deployment starting",
		"container", d.c.id,
		"extensions", len(d.c.bus.extensions))

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			d.c.setPhase(step.phase)
			return DeploymentError{Phase: step.phase, Cause: err}
		}
		d.c.setPhase(step.phase)
		d.c.log.Debug("phase complete", "phase", step.phase)
	}

	d.c.setPhase(PhaseDeployed)
	d.c.deployed.Store(true)
	d.c.log.Info("deployment complete",
		"container", d.c.id,
		"components", d.c.registry.Count())
	return nil
}

func (d *deployer) loadExtensions(context.Context) error {
	seen := make(map[string]bool, len(d.c.bus.extensions))
	for _, ext := range d.c.bus.extensions {
		if ext == nil {
			return fmt.Errorf("nil extension registered")
		}
		name := ext.Name()
		if name == "" {
			return fmt.Errorf("extension with empty name")
		}
		if seen[name] {
			return fmt.Errorf("extension %q registered twice", name)
		}
		seen[name] = true
		d.c.log.Debug("extension loaded", "extension", name)
	}
	return nil
}

// registerBootstrap registers the container itself, so components can
// declare an injection point of type *Container.
func (d *deployer) registerBootstrap(context.Context) error {
	comp := &Component{
		Type:  reflect.TypeOf(Container{}),
		Kind:  KindBuiltin,
		Scope: ApplicationScoped,
		Types: []reflect.Type{reflect.TypeOf(d.c)},
	}
	comp.SetTarget(&instanceTarget{value: d.c})
	return d.c.registry.Add(comp)
}

func (d *deployer) fireBeforeDiscovery(context.Context) error {
	ev := &BeforeDiscoveryEvent{}
	if err := d.c.bus.fireBeforeDiscovery(ev); err != nil {
		return err
	}
	d.additionalTypes = append(d.additionalTypes, ev.types...)
	d.pendingStereotypes = ev.stereotypes
	for _, s := range ev.scopes {
		if err := d.c.registerScope(s); err != nil {
			return err
		}
	}
	return nil
}

// deployConfig runs discovery and parses every declarative source, in
// archive order then source order.
func (d *deployer) deployConfig(ctx context.Context) error {
	archives, err := d.c.discovery.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	d.archives = archives

	cfg := newDeploymentConfig()
	for _, a := range archives {
		for _, src := range a.Configs {
			if err := cfg.readSource(src); err != nil {
				return ArchiveError{Archive: a.Name, Cause: err}
			}
		}
	}
	d.c.config = cfg
	return nil
}

// checkStereotypes assembles the deployment's stereotype set: builtins
// first, then observer-added, then declarative ones, then a consistency
// walk over the whole set.
func (d *deployer) checkStereotypes(context.Context) error {
	set := newStereotypeSet()
	if err := set.register(ModelStereotype); err != nil {
		return err
	}
	for _, st := range d.pendingStereotypes {
		if err := set.register(st); err != nil {
			return err
		}
	}
	for _, doc := range d.c.config.stereotypes {
		st, err := d.stereotypeFromDoc(doc)
		if err != nil {
			return err
		}
		if err := set.register(st); err != nil {
			return err
		}
	}
	if err := set.check(); err != nil {
		return err
	}
	d.c.stereotypes = set
	return nil
}

func (d *deployer) stereotypeFromDoc(doc stereotypeDoc) (Stereotype, error) {
	if doc.Name == "" {
		return Stereotype{}, fmt.Errorf("stereotype with empty name")
	}
	st := Stereotype{
		Name:        doc.Name,
		Bindings:    doc.Bindings,
		Alternative: doc.Alternative,
		Named:       doc.Named,
		Stereotypes: doc.Stereotypes,
	}
	if doc.Scope != "" {
		scope, ok := d.c.scopeByName(doc.Scope)
		if !ok {
			return Stereotype{}, fmt.Errorf("stereotype %q: unknown scope %q", doc.Name, doc.Scope)
		}
		st.DefaultScope = scope
	}
	quals, err := parseQualifierList(doc.Qualifiers)
	if err != nil {
		return Stereotype{}, fmt.Errorf("stereotype %q: %w", doc.Name, err)
	}
	st.Qualifiers = quals
	return st, nil
}

// configureDefaults registers the container-supplied default components.
// They yield to application components exposing the same contract.
func (d *deployer) configureDefaults(context.Context) error {
	defaults := []struct {
		declaring reflect.Type
		contract  reflect.Type
		value     any
	}{
		{reflect.TypeOf(slog.Logger{}), reflect.TypeOf(d.c.log), d.c.log},
		{reflect.TypeOf(Contexts{}), reflect.TypeOf(d.c.contexts), d.c.contexts},
	}
	for _, def := range defaults {
		comp := &Component{
			Type:  def.declaring,
			Kind:  KindBuiltin,
			Scope: ApplicationScoped,
			Types: []reflect.Type{def.contract},
		}
		comp.SetTarget(&instanceTarget{value: def.value})
		if err := d.c.registry.Add(comp); err != nil {
			return err
		}
	}
	return nil
}

func (d *deployer) deployClasspath(context.Context) error {
	for _, a := range d.archives {
		for _, t := range a.Types {
			def, err := d.c.engine.DefineType(t)
			if err != nil {
				return ArchiveError{Archive: a.Name, Cause: err}
			}
			if def.Outcome == OutcomeSkipped {
				d.c.log.Debug("candidate skipped",
					"archive", a.Name,
					"type", meta.TypeName(t))
			}
		}
		for _, spec := range a.producers {
			if _, err := d.c.engine.defineProducer(spec); err != nil {
				return ArchiveError{Archive: a.Name, Cause: err}
			}
		}
	}
	return nil
}

func (d *deployer) deployAdditionalTypes(context.Context) error {
	for _, t := range d.additionalTypes {
		if _, err := d.c.engine.DefineType(t); err != nil {
			return err
		}
	}
	return nil
}

// checkSpecializations applies the deployment's enablement lists, then
// resolves specialization links. Enablement must precede the check:
// disabled alternative specializers leave their ancestors untouched.
func (d *deployer) checkSpecializations(context.Context) error {
	d.applyEnablement()
	return checkSpecializations(d.c.registry, func(c *Component) bool {
		return d.c.resolver.alternatives[c.Type]
	})
}

// applyEnablement merges programmatic options with declarative sources:
// option entries first, then configuration entries in source order.
// Unknown configuration references are left for validation to report.
func (d *deployer) applyEnablement() {
	byName := make(map[string]*Component, d.c.registry.Count())
	for _, c := range d.c.registry.All() {
		typeName := meta.TypeName(c.Type)
		if _, ok := byName[typeName]; !ok {
			byName[typeName] = c
		}
	}

	for _, t := range d.c.altTypes {
		d.c.resolver.EnableAlternative(t)
	}
	for _, typeName := range d.c.config.alternatives {
		if c, ok := byName[typeName]; ok {
			d.c.resolver.EnableAlternative(c.Type)
		}
	}

	decorators := append([]reflect.Type(nil), d.c.decoratorOrder...)
	for _, typeName := range d.c.config.decorators {
		if c, ok := byName[typeName]; ok {
			decorators = appendType(decorators, c.Type)
		}
	}
	d.c.resolver.SetDecoratorOrder(decorators)

	interceptors := append([]reflect.Type(nil), d.c.interceptorOrder...)
	for _, typeName := range d.c.config.interceptors {
		if c, ok := byName[typeName]; ok {
			interceptors = appendType(interceptors, c.Type)
		}
	}
	d.c.resolver.SetInterceptorOrder(interceptors)
}

func (d *deployer) fireAfterDiscovery(context.Context) error {
	ev := &AfterDiscoveryEvent{}
	if err := d.c.bus.fireAfterDiscovery(ev); err != nil {
		return err
	}
	for _, spec := range ev.producers {
		if _, err := d.c.engine.defineProducer(spec); err != nil {
			return err
		}
	}
	for _, sc := range ev.contexts {
		if err := d.c.contexts.Register(sc); err != nil {
			return err
		}
	}
	return nil
}

func (d *deployer) validate(context.Context) error {
	v := &validator{c: d.c}
	if err := v.run(); err != nil {
		return err
	}
	d.c.registry.Seal()
	return nil
}

func (d *deployer) fireAfterValidation(context.Context) error {
	ev := &AfterValidationEvent{registry: d.c.registry}
	return d.c.bus.fireAfterValidation(ev)
}
