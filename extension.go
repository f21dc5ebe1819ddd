package loom

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
)

// Extension observes the deployment pipeline. A bare Extension only
// names itself for diagnostics; the observer interfaces below are
// checked per notification kind, so one extension may observe any
// subset of the pipeline.
//
// Notifications fire synchronously, in extension registration order, on
// the deploying goroutine. Errors passed to an event's ReportError do
// not stop the round: every observer still runs, then the collected
// errors fail the phase as one aggregated ExtensionError.
type Extension interface {
	Name() string
}

// BeforeDiscoveryObserver runs before type discovery. Observers may add
// candidate types, stereotypes, and scopes to the deployment.
type BeforeDiscoveryObserver interface {
	BeforeDiscovery(e *BeforeDiscoveryEvent)
}

// TypeObserver runs once per candidate type, after metadata extraction
// and configuration overrides but before the component is defined.
// Observers may mutate the metadata or veto the candidate.
type TypeObserver interface {
	ProcessType(e *TypeEvent)
}

// InjectionTargetObserver runs once per defined component, before
// registration. Observers may replace the component's injection target;
// a replaced target takes precedence over the default.
type InjectionTargetObserver interface {
	ProcessInjectionTarget(e *InjectionTargetEvent)
}

// AfterDiscoveryObserver runs after every archive type has been
// defined. Observers may register additional factory and instance
// components and custom scope contexts.
type AfterDiscoveryObserver interface {
	AfterDiscovery(e *AfterDiscoveryEvent)
}

// AfterValidationObserver runs after deployment validation succeeds,
// immediately before the container reports itself deployed.
type AfterValidationObserver interface {
	AfterValidation(e *AfterValidationEvent)
}

// event is the error-collection base embedded in every notification.
type event struct {
	errs []error
}

// ReportError records a deployment problem without stopping the current
// notification round. Nil errors are ignored.
func (e *event) ReportError(err error) {
	if err != nil {
		e.errs = append(e.errs, err)
	}
}

func (e *event) drain() []error {
	errs := e.errs
	e.errs = nil
	return errs
}

// BeforeDiscoveryEvent is fired once per deployment, before archives
// are scanned.
type BeforeDiscoveryEvent struct {
	event

	types       []reflect.Type
	stereotypes []Stereotype
	scopes      []Scope
}

// AddType queues additional candidate types. They run through the
// definition engine after the archive types.
func (e *BeforeDiscoveryEvent) AddType(types ...reflect.Type) {
	e.types = append(e.types, types...)
}

// AddStereotype registers a stereotype for this deployment.
func (e *BeforeDiscoveryEvent) AddStereotype(st Stereotype) {
	e.stereotypes = append(e.stereotypes, st)
}

// RegisterScope registers a custom scope for this deployment.
func (e *BeforeDiscoveryEvent) RegisterScope(s Scope) {
	e.scopes = append(e.scopes, s)
}

// TypeEvent is fired once per candidate type.
type TypeEvent struct {
	event

	meta   *TypeMeta
	vetoed bool
}

// Meta returns the candidate's mutable metadata. Changes apply to this
// deployment only; the underlying type analysis cache is untouched.
func (e *TypeEvent) Meta() *TypeMeta { return e.meta }

// SetMeta replaces the candidate's metadata wholesale.
func (e *TypeEvent) SetMeta(m *TypeMeta) {
	if m != nil {
		e.meta = m
	}
}

// Veto excludes the candidate from this deployment. A vetoed type is
// not an error: the engine records the veto and moves on.
func (e *TypeEvent) Veto() { e.vetoed = true }

// Vetoed reports whether an observer vetoed the candidate.
func (e *TypeEvent) Vetoed() bool { return e.vetoed }

// InjectionTargetEvent is fired once per defined component, before it
// is registered.
type InjectionTargetEvent struct {
	event

	component *Component
	target    InjectionTarget
}

// Component returns the component being defined.
func (e *InjectionTargetEvent) Component() *Component { return e.component }

// Target returns the injection target that will be installed.
func (e *InjectionTargetEvent) Target() InjectionTarget { return e.target }

// SetTarget replaces the injection target. Nil targets are ignored.
func (e *InjectionTargetEvent) SetTarget(t InjectionTarget) {
	if t != nil {
		e.target = t
	}
}

// AfterDiscoveryEvent is fired once per deployment, after every archive
// and observer-added type has been defined.
type AfterDiscoveryEvent struct {
	event

	producers []producerSpec
	contexts  []ScopeContext
}

// AddFactory registers a producer component backed by a factory
// function, exactly as an archive's WithFactory would. Invalid
// factories are reported as round errors.
func (e *AfterDiscoveryEvent) AddFactory(fn any, opts ...BindOption) {
	spec, err := newFactorySpec(fn, opts)
	if err != nil {
		e.ReportError(err)
		return
	}
	e.producers = append(e.producers, spec)
}

// AddInstance registers a pre-built instance as a component, exactly as
// an archive's WithInstance would.
func (e *AfterDiscoveryEvent) AddInstance(v any, opts ...BindOption) {
	spec, err := newInstanceSpec(v, opts)
	if err != nil {
		e.ReportError(err)
		return
	}
	e.producers = append(e.producers, spec)
}

// RegisterContext registers a scope context with the container's
// context manager.
func (e *AfterDiscoveryEvent) RegisterContext(sc ScopeContext) {
	if sc != nil {
		e.contexts = append(e.contexts, sc)
	}
}

// AfterValidationEvent is fired once per deployment, after validation
// succeeds. The registry is sealed at this point.
type AfterValidationEvent struct {
	event

	registry *Registry
}

// Registry returns the sealed component registry for introspection.
func (e *AfterValidationEvent) Registry() *Registry { return e.registry }

// extensionBus fires deployment notifications to registered extensions
// in registration order.
type extensionBus struct {
	extensions []Extension
	log        *slog.Logger
}

func newExtensionBus(extensions []Extension, log *slog.Logger) *extensionBus {
	return &extensionBus{extensions: extensions, log: log}
}

func (b *extensionBus) fireBeforeDiscovery(e *BeforeDiscoveryEvent) error {
	var errs []error
	for _, ext := range b.extensions {
		obs, ok := ext.(BeforeDiscoveryObserver)
		if !ok {
			continue
		}
		obs.BeforeDiscovery(e)
		errs = b.collect(errs, ext, &e.event)
	}
	return b.roundError("BeforeDiscovery", errs)
}

func (b *extensionBus) fireProcessType(e *TypeEvent) error {
	var errs []error
	for _, ext := range b.extensions {
		obs, ok := ext.(TypeObserver)
		if !ok {
			continue
		}
		obs.ProcessType(e)
		errs = b.collect(errs, ext, &e.event)
	}
	return b.roundError("ProcessType", errs)
}

func (b *extensionBus) fireProcessInjectionTarget(e *InjectionTargetEvent) error {
	var errs []error
	for _, ext := range b.extensions {
		obs, ok := ext.(InjectionTargetObserver)
		if !ok {
			continue
		}
		obs.ProcessInjectionTarget(e)
		errs = b.collect(errs, ext, &e.event)
	}
	return b.roundError("ProcessInjectionTarget", errs)
}

func (b *extensionBus) fireAfterDiscovery(e *AfterDiscoveryEvent) error {
	var errs []error
	for _, ext := range b.extensions {
		obs, ok := ext.(AfterDiscoveryObserver)
		if !ok {
			continue
		}
		obs.AfterDiscovery(e)
		errs = b.collect(errs, ext, &e.event)
	}
	return b.roundError("AfterDiscovery", errs)
}

func (b *extensionBus) fireAfterValidation(e *AfterValidationEvent) error {
	var errs []error
	for _, ext := range b.extensions {
		obs, ok := ext.(AfterValidationObserver)
		if !ok {
			continue
		}
		obs.AfterValidation(e)
		errs = b.collect(errs, ext, &e.event)
	}
	return b.roundError("AfterValidation", errs)
}

// collect drains the errors one observer reported and attributes them to
// its extension.
func (b *extensionBus) collect(errs []error, ext Extension, ev *event) []error {
	for _, err := range ev.drain() {
		errs = append(errs, fmt.Errorf("%s: %w", ext.Name(), err))
	}
	return errs
}

func (b *extensionBus) roundError(eventName string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	b.log.Error("extension observers reported errors",
		"event", eventName,
		"count", len(errs))
	return ExtensionError{Event: eventName, Cause: errors.Join(errs...)}
}
