package loom

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/loom-di/loom/internal/meta"
)

// TypeMeta is the extracted metadata of one candidate type, exposed so
// process-type observers and enterprise plugins can inspect and adjust
// it before a component is defined.
type TypeMeta = meta.TypeMeta

// FieldMeta describes one injection point field of a TypeMeta.
type FieldMeta = meta.FieldMeta

// MetaQual is a parsed qualifier declaration inside a TypeMeta.
type MetaQual = meta.Qual

// EnterprisePlugin defines components for types that carry no marker,
// such as session facades managed by an outer runtime. The plugin is
// consulted only when enterprise discovery is enabled and the candidate
// did not qualify as a managed component.
type EnterprisePlugin interface {
	// Match reports whether the plugin claims the type.
	Match(t reflect.Type) bool

	// Define adjusts the extracted metadata to the plugin's conventions
	// and returns the metadata the component is defined from.
	Define(t reflect.Type, m *TypeMeta) (*TypeMeta, error)
}

// DefinitionOutcome classifies what the definition engine did with one
// candidate type.
type DefinitionOutcome int

const (
	// OutcomeSkipped: the type is not a component candidate. Skipping
	// is silent, not an error.
	OutcomeSkipped DefinitionOutcome = iota

	// OutcomeVetoed: a process-type observer vetoed the candidate.
	OutcomeVetoed

	// OutcomeDefined: a component was defined and registered.
	OutcomeDefined
)

func (o DefinitionOutcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "Skipped"
	case OutcomeVetoed:
		return "Vetoed"
	case OutcomeDefined:
		return "Defined"
	default:
		return fmt.Sprintf("Unknown(%d)", int(o))
	}
}

// Definition is the result of running one candidate type through the
// definition engine. Component is set only for OutcomeDefined.
type Definition struct {
	Outcome   DefinitionOutcome
	Component *Component
}

// definitionEngine turns candidate types into registered components:
// metadata extraction, configuration overrides, process-type and
// process-injection-target notifications, stereotype application, and
// contract closure.
type definitionEngine struct {
	c *Container
}

// DefineType runs one candidate through the full definition sequence.
func (e *definitionEngine) DefineType(t reflect.Type) (Definition, error) {
	if t == nil {
		return Definition{}, ErrTypeNil
	}

	m, err := e.c.analyzer.Analyze(t)
	if err != nil {
		var notStruct meta.NotStructError
		if errors.As(err, &notStruct) {
			return Definition{Outcome: OutcomeSkipped}, nil
		}
		return Definition{}, DefinitionError{Type: t, Reason: "invalid component metadata", Cause: err}
	}

	kind, eligible := e.classify(m)
	if !eligible {
		return Definition{Outcome: OutcomeSkipped}, nil
	}

	// Mutations below must never touch the analyzer's cached copy.
	m = m.Clone()

	if kind == KindEnterprise {
		adjusted, err := e.c.enterprise.Define(m.Type, m)
		if err != nil {
			return Definition{}, DefinitionError{Type: m.Type, Reason: "enterprise definition failed", Cause: err}
		}
		if adjusted != nil {
			m = adjusted
		}
	}

	if doc, ok := e.c.config.overrideFor(meta.TypeName(m.Type)); ok {
		if err := applyOverride(m, doc); err != nil {
			return Definition{}, DefinitionError{Type: m.Type, Reason: "invalid configuration override", Cause: err}
		}
	}

	ev := &TypeEvent{meta: m}
	if err := e.c.bus.fireProcessType(ev); err != nil {
		return Definition{}, err
	}
	if ev.Vetoed() {
		e.c.log.Debug("candidate vetoed", "type", meta.TypeName(m.Type))
		return Definition{Outcome: OutcomeVetoed}, nil
	}
	m = ev.meta

	component, err := e.buildComponent(m, kind)
	if err != nil {
		return Definition{}, err
	}

	itev := &InjectionTargetEvent{component: component, target: component.Target()}
	if err := e.c.bus.fireProcessInjectionTarget(itev); err != nil {
		return Definition{}, err
	}
	component.SetTarget(itev.Target())

	if err := e.c.registry.Add(component); err != nil {
		return Definition{}, err
	}
	e.c.log.Debug("component defined",
		"component", component.String(),
		"kind", component.Kind.String(),
		"scope", component.Scope.Name)

	return Definition{Outcome: OutcomeDefined, Component: component}, nil
}

// classify decides whether a candidate is eligible and what kind of
// component it would become. Anonymous and unexported types never
// qualify; unmarked types qualify only through the enterprise plugin.
func (e *definitionEngine) classify(m *TypeMeta) (ComponentKind, bool) {
	if m.Type.Name() == "" || !isExportedName(m.Type.Name()) {
		return 0, false
	}

	switch m.Kind {
	case meta.KindManaged:
		return KindManaged, true
	case meta.KindDecorator:
		return KindDecorator, true
	case meta.KindInterceptor:
		return KindInterceptor, true
	}

	if e.c.enterpriseDiscovery && e.c.enterprise != nil && e.c.enterprise.Match(m.Type) {
		return KindEnterprise, true
	}
	return 0, false
}

// buildComponent assembles the registrable descriptor: stereotype
// effects, scope defaulting, naming, contract closure, and the default
// injection target.
func (e *definitionEngine) buildComponent(m *TypeMeta, kind ComponentKind) (*Component, error) {
	effect, err := e.c.stereotypes.flatten(m.Stereotypes)
	if err != nil {
		return nil, DefinitionError{Type: m.Type, Reason: "stereotype application failed", Cause: err}
	}

	scope, err := e.resolveScope(m, effect, kind)
	if err != nil {
		return nil, err
	}

	name := m.Name
	if name == "" && effect.named {
		name = defaultComponentName(m.Type.Name())
	}

	types, err := contractClosure(m)
	if err != nil {
		return nil, err
	}

	c := &Component{
		Type:               m.Type,
		Kind:               kind,
		Name:               name,
		Scope:              scope,
		Qualifiers:         mergeQualifiers(qualifiersFromMeta(m.Quals), effect.qualifiers),
		Types:              types,
		Stereotypes:        append([]string(nil), m.Stereotypes...),
		Alternative:        m.Alternative || effect.alternative,
		Specializes:        m.Specializes,
		Ancestors:          append([]reflect.Type(nil), m.SuperChain...),
		Bindings:           mergeStrings(append([]string(nil), m.Bindings...), effect.bindings),
		PassivationCapable: isPassivationCapable(reflect.PointerTo(m.Type)),
	}

	for _, f := range m.Fields {
		c.InjectionPoints = append(c.InjectionPoints, InjectionPoint{
			Owner:      c,
			Type:       f.Type,
			Qualifiers: qualifiersFromMeta(f.Quals),
			FieldName:  f.Name,
			FieldIndex: f.Index,
			Optional:   f.Optional,
			Delegate:   f.Delegate,
		})
	}

	switch kind {
	case KindDecorator:
		if err := e.completeDecorator(c, m); err != nil {
			return nil, err
		}
	case KindInterceptor:
		if len(c.Bindings) == 0 {
			return nil, DefinitionError{Type: m.Type, Reason: "interceptor declares no bindings"}
		}
	}

	c.SetTarget(newManagedTarget(c))
	return c, nil
}

// resolveScope applies the scope defaulting rules: an explicit
// declaration wins, then a single stereotype default, then Dependent.
// Decorators and interceptors are always dependent-scoped.
func (e *definitionEngine) resolveScope(m *TypeMeta, effect stereotypeEffect, kind ComponentKind) (Scope, error) {
	if kind == KindDecorator || kind == KindInterceptor {
		if m.ScopeName != "" && m.ScopeName != Dependent.Name {
			return Scope{}, DefinitionError{
				Type:   m.Type,
				Reason: fmt.Sprintf("%s components are dependent-scoped, cannot declare scope %q", strings.ToLower(kind.String()), m.ScopeName),
			}
		}
		return Dependent, nil
	}

	if m.ScopeName != "" {
		scope, ok := e.c.scopeByName(m.ScopeName)
		if !ok {
			return Scope{}, DefinitionError{Type: m.Type, Reason: fmt.Sprintf("unknown scope %q", m.ScopeName)}
		}
		return scope, nil
	}

	switch len(effect.defaultScopes) {
	case 0:
		return Dependent, nil
	case 1:
		return effect.defaultScopes[0], nil
	default:
		names := make([]string, len(effect.defaultScopes))
		for i, s := range effect.defaultScopes {
			names[i] = s.Name
		}
		return Scope{}, DefinitionError{
			Type:   m.Type,
			Reason: fmt.Sprintf("stereotypes declare conflicting default scopes (%s); declare one explicitly", strings.Join(names, ", ")),
		}
	}
}

// completeDecorator validates the delegate declaration and records the
// decorated contract on the descriptor.
func (e *definitionEngine) completeDecorator(c *Component, m *TypeMeta) error {
	df, ok := m.DelegateField()
	if !ok {
		return DefinitionError{Type: m.Type, Reason: "decorator declares no delegate field"}
	}
	if df.Type.Kind() != reflect.Interface {
		return DefinitionError{
			Type:   m.Type,
			Reason: fmt.Sprintf("delegate field %s must be an interface, got %s", df.Name, df.Type),
		}
	}
	if !reflect.PointerTo(m.Type).Implements(df.Type) {
		return DefinitionError{
			Type:   m.Type,
			Reason: fmt.Sprintf("decorator does not implement its delegate contract %s", formatType(df.Type)),
		}
	}
	c.DelegateType = df.Type
	c.DelegateQualifiers = qualifiersFromMeta(df.Quals)
	return nil
}

// defineProducer registers a programmatic factory or instance
// registration as a producer component.
func (e *definitionEngine) defineProducer(spec producerSpec) (*Component, error) {
	c, err := spec.component()
	if err != nil {
		return nil, err
	}
	if err := e.c.registry.Add(c); err != nil {
		return nil, err
	}
	e.c.log.Debug("producer registered",
		"component", c.String(),
		"scope", c.Scope.Name)
	return c, nil
}

// contractClosure computes the component's contract types: the declaring
// struct, its pointer, every embedded ancestor with its pointer, and the
// declared interface contracts.
func contractClosure(m *TypeMeta) ([]reflect.Type, error) {
	ptr := reflect.PointerTo(m.Type)
	types := []reflect.Type{m.Type, ptr}

	for _, ancestor := range m.SuperChain {
		types = appendType(types, ancestor)
		types = appendType(types, reflect.PointerTo(ancestor))
	}

	for _, contract := range m.Contracts {
		if contract.Kind() != reflect.Interface {
			return nil, DefinitionError{
				Type:   m.Type,
				Reason: fmt.Sprintf("contract %s must be an interface", formatType(contract)),
			}
		}
		if !ptr.Implements(contract) && !m.Type.Implements(contract) {
			return nil, DefinitionError{
				Type:   m.Type,
				Reason: fmt.Sprintf("type does not implement declared contract %s", formatType(contract)),
			}
		}
		types = appendType(types, contract)
	}
	return types, nil
}

// applyOverride merges one declarative configuration entry onto
// extracted metadata. Configuration wins over tags; unset fields keep
// the declared value.
func applyOverride(m *TypeMeta, doc componentDoc) error {
	if doc.Scope != "" {
		m.ScopeName = doc.Scope
	}
	if doc.Name != "" {
		m.Name = doc.Name
	}
	if doc.Qualifiers != nil {
		quals, err := meta.ParseQualifiers(strings.Join(doc.Qualifiers, ","))
		if err != nil {
			return err
		}
		m.Quals = quals
	}
	if doc.Stereotypes != nil {
		m.Stereotypes = append([]string(nil), doc.Stereotypes...)
	}
	if doc.Alternative != nil {
		m.Alternative = *doc.Alternative
	}
	if doc.Specializes != nil {
		m.Specializes = *doc.Specializes
	}
	return nil
}

func qualifiersFromMeta(quals []MetaQual) []Qualifier {
	if len(quals) == 0 {
		return nil
	}
	out := make([]Qualifier, len(quals))
	for i, q := range quals {
		out[i] = Qualifier{Name: q.Name, Value: q.Value}
	}
	return out
}

func appendType(types []reflect.Type, t reflect.Type) []reflect.Type {
	for _, have := range types {
		if have == t {
			return types
		}
	}
	return append(types, t)
}

func isExportedName(name string) bool {
	if name == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}
