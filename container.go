package loom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/loom-di/loom/internal/meta"
)

// Container is the component-model runtime: it deploys archives through
// the pipeline, then serves typed and named lookups for the rest of its
// life. A container is safe for concurrent use after Deploy returns.
type Container struct {
	id  string
	log *slog.Logger

	registry    *Registry
	resolver    *Resolver
	contexts    *Contexts
	analyzer    *meta.Analyzer
	stereotypes *stereotypeSet
	scopes      map[string]Scope
	engine      *definitionEngine
	bus         *extensionBus

	extensions          []Extension
	discovery           Discovery
	proxyFactory        ProxyFactory
	enterprise          EnterprisePlugin
	enterpriseDiscovery bool

	archives         []Archive
	altTypes         []reflect.Type
	decoratorOrder   []reflect.Type
	interceptorOrder []reflect.Type

	config *deploymentConfig

	deployMu  sync.Mutex
	phase     atomic.Int32
	deployed  atomic.Bool
	deployErr error // guarded by deployMu
	closed    atomic.Bool

	proxies proxyCache

	dependentsMu sync.Mutex
	dependents   []*Contextual
}

// Option configures a container under construction.
type Option func(*Container) error

// New builds a container. Nothing deploys until Deploy is called.
func New(opts ...Option) (*Container, error) {
	c := &Container{
		id:       uuid.NewString(),
		log:      slog.Default(),
		registry: NewRegistry(),
		contexts: NewContexts(),
		analyzer: meta.NewAnalyzer(),
		scopes:   builtinScopes(),
	}
	c.resolver = NewResolver(c.registry)
	c.engine = &definitionEngine{c: c}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.bus = newExtensionBus(c.extensions, c.log)
	if c.discovery == nil {
		c.discovery = staticDiscovery{archives: c.archives}
	}
	return c, nil
}

// WithArchives adds deployment archives. Ignored when a custom
// Discovery is installed.
func WithArchives(archives ...Archive) Option {
	return func(c *Container) error {
		c.archives = append(c.archives, archives...)
		return nil
	}
}

// WithDiscovery installs a custom archive discovery, replacing the
// default static one built from WithArchives.
func WithDiscovery(d Discovery) Option {
	return func(c *Container) error {
		if d == nil {
			return fmt.Errorf("discovery cannot be nil")
		}
		c.discovery = d
		return nil
	}
}

// WithExtensions registers deployment extensions. Registration order is
// notification order.
func WithExtensions(exts ...Extension) Option {
	return func(c *Container) error {
		c.extensions = append(c.extensions, exts...)
		return nil
	}
}

// WithProxyFactory installs a client-proxy factory for normal-scoped
// components. Without one the container hands out contextual instances
// directly.
func WithProxyFactory(f ProxyFactory) Option {
	return func(c *Container) error {
		if f == nil {
			return fmt.Errorf("proxy factory cannot be nil")
		}
		c.proxyFactory = f
		return nil
	}
}

// WithLogger sets the container's structured logger. The logger is also
// registered as a default component, so application components can
// inject *slog.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Container) error {
		if l == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.log = l
		return nil
	}
}

// WithScopes registers custom scopes before deployment.
func WithScopes(scopes ...Scope) Option {
	return func(c *Container) error {
		for _, s := range scopes {
			if err := c.registerScope(s); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithAlternatives enables alternative components, identified by their
// declaring struct type, for this deployment.
func WithAlternatives(types ...reflect.Type) Option {
	return func(c *Container) error {
		for _, t := range types {
			if t == nil {
				return ErrTypeNil
			}
			if t.Kind() == reflect.Pointer {
				t = t.Elem()
			}
			c.altTypes = append(c.altTypes, t)
		}
		return nil
	}
}

// WithDecoratorOrder enables decorators and fixes their order, outermost
// last. Declarative entries append after these.
func WithDecoratorOrder(types ...reflect.Type) Option {
	return func(c *Container) error {
		for _, t := range types {
			if t == nil {
				return ErrTypeNil
			}
			if t.Kind() == reflect.Pointer {
				t = t.Elem()
			}
			c.decoratorOrder = append(c.decoratorOrder, t)
		}
		return nil
	}
}

// WithInterceptorOrder enables interceptors and fixes their order.
// Declarative entries append after these.
func WithInterceptorOrder(types ...reflect.Type) Option {
	return func(c *Container) error {
		for _, t := range types {
			if t == nil {
				return ErrTypeNil
			}
			if t.Kind() == reflect.Pointer {
				t = t.Elem()
			}
			c.interceptorOrder = append(c.interceptorOrder, t)
		}
		return nil
	}
}

// WithEnterprisePlugin installs an enterprise component plugin and
// enables enterprise discovery.
func WithEnterprisePlugin(p EnterprisePlugin) Option {
	return func(c *Container) error {
		if p == nil {
			return fmt.Errorf("enterprise plugin cannot be nil")
		}
		c.enterprise = p
		c.enterpriseDiscovery = true
		return nil
	}
}

// WithEnterpriseDiscovery toggles enterprise discovery independently of
// plugin installation.
func WithEnterpriseDiscovery(enabled bool) Option {
	return func(c *Container) error {
		c.enterpriseDiscovery = enabled
		return nil
	}
}

// ID returns the container's unique identity.
func (c *Container) ID() string { return c.id }

// Registry returns the component registry. It is sealed once deployment
// validates.
func (c *Container) Registry() *Registry { return c.registry }

// Contexts returns the scope context manager, for registering and
// activating contexts of custom and request scopes.
func (c *Container) Contexts() *Contexts { return c.contexts }

// Phase returns the pipeline position: the last completed phase, or on
// failure the phase whose work failed.
func (c *Container) Phase() Phase { return Phase(c.phase.Load()) }

func (c *Container) setPhase(p Phase) { c.phase.Store(int32(p)) }

// Deployed reports whether the full pipeline completed.
func (c *Container) Deployed() bool { return c.deployed.Load() }

// Deploy runs the deployment pipeline. Deploying an already deployed
// container is a no-op; a failed deployment is not retried and every
// subsequent call returns the original error.
func (c *Container) Deploy(ctx context.Context) error {
	c.deployMu.Lock()
	defer c.deployMu.Unlock()

	if c.closed.Load() {
		return ErrContainerClosed
	}
	if c.deployed.Load() {
		return nil
	}
	if c.deployErr != nil {
		return c.deployErr
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d := &deployer{c: c}
	if err := d.run(ctx); err != nil {
		c.deployErr = err
		c.log.Error("deployment failed", "container", c.id, "error", err)
		return err
	}
	return nil
}

func (c *Container) registerScope(s Scope) error {
	if s.Name == "" {
		return fmt.Errorf("scope with empty name")
	}
	if existing, ok := c.scopes[s.Name]; ok && existing != s {
		return fmt.Errorf("scope %q already registered with different semantics", s.Name)
	}
	c.scopes[s.Name] = s
	return nil
}

func (c *Container) scopeByName(name string) (Scope, bool) {
	s, ok := c.scopes[name]
	return s, ok
}

// Resolve returns the single component matching a contract type and
// qualifier set, after tie-breaking.
func (c *Container) Resolve(t reflect.Type, quals ...Qualifier) (*Component, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.resolver.Resolve(t, quals...)
}

// ResolveName returns the single component holding a name.
func (c *Container) ResolveName(name string) (*Component, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.resolver.ResolveName(name)
}

// Components returns every selectable candidate for a contract type and
// qualifier set, before tie-breaking.
func (c *Container) Components(t reflect.Type, quals ...Qualifier) []*Component {
	if err := c.ready(); err != nil {
		return nil
	}
	return c.resolver.Candidates(t, quals...)
}

// Instance resolves a component and returns a client-usable instance.
// Normal-scoped components yield a reference mediated by the scope's
// active context; pseudo-scoped components yield a fresh instance owned
// by the container until Close.
func (c *Container) Instance(ctx context.Context, t reflect.Type, quals ...Qualifier) (any, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	comp, err := c.resolver.Resolve(t, quals...)
	if err != nil {
		return nil, err
	}
	return c.InstanceOf(ctx, comp)
}

// InstanceByName resolves a component by name and returns an instance.
func (c *Container) InstanceByName(ctx context.Context, name string) (any, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	comp, err := c.resolver.ResolveName(name)
	if err != nil {
		return nil, err
	}
	return c.InstanceOf(ctx, comp)
}

// InstanceOf returns an instance for an already resolved component.
func (c *Container) InstanceOf(ctx context.Context, comp *Component) (any, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if comp == nil {
		return nil, ErrComponentNil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if comp.Scope.Normal {
		return c.clientReference(ctx, comp)
	}

	ct, err := c.build(ctx, comp)
	if err != nil {
		return nil, err
	}
	c.dependentsMu.Lock()
	c.dependents = append(c.dependents, ct)
	c.dependentsMu.Unlock()
	return ct.Value, nil
}

// Close destroys container-owned dependents and the application
// context, in reverse creation order. Close is idempotent.
func (c *Container) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.log.Debug("container closing", "container", c.id)

	var errs []error

	c.dependentsMu.Lock()
	dependents := c.dependents
	c.dependents = nil
	c.dependentsMu.Unlock()
	for i := len(dependents) - 1; i >= 0; i-- {
		if err := dependents[i].Destroy(); err != nil {
			errs = append(errs, err)
		}
	}

	if app := c.contexts.Application(); app != nil {
		if err := app.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return DisposalError{Context: "container", Errors: errs}
	}
	return nil
}

func (c *Container) ready() error {
	if c.closed.Load() {
		return ErrContainerClosed
	}
	if !c.deployed.Load() {
		return ErrNotDeployed
	}
	return nil
}

// clientReference returns what clients of a normal-scoped component
// hold. With a proxy factory installed that is one cached proxy per
// component; otherwise it is the live contextual instance from the
// scope's active context.
func (c *Container) clientReference(ctx context.Context, comp *Component) (any, error) {
	if c.proxyFactory == nil {
		return c.contextualInstance(ctx, comp)
	}

	if ref, ok := c.proxies.get(comp); ok {
		return ref, nil
	}
	proxy, err := c.proxyFactory.CreateProxy(comp, func(pctx context.Context) (any, error) {
		return c.contextualInstance(pctx, comp)
	})
	if err != nil {
		return nil, fmt.Errorf("create proxy for %s: %w", comp, err)
	}
	return c.proxies.share(comp, proxy), nil
}

// contextualInstance returns the component's instance in the active
// context of its scope, creating it on first use. The cycle check runs
// before GetOrCreate: a loop that re-enters the same component would
// otherwise block on the context's in-flight creation gate instead of
// failing.
func (c *Container) contextualInstance(ctx context.Context, comp *Component) (any, error) {
	if onCreationPath(ctx, comp) {
		return nil, creationCycle(ctx, comp)
	}
	sc, err := c.contexts.Lookup(ctx, comp.Scope)
	if err != nil {
		return nil, err
	}
	return sc.GetOrCreate(comp, func() (*Contextual, error) {
		return c.build(ctx, comp)
	})
}

// creational collects the dependent instances created while building
// one contextual instance, so their disposal ties to the owner.
type creational struct {
	dependents []*Contextual
}

// instanceSource resolves injection point dependencies during one
// creation.
type instanceSource struct {
	c     *Container
	owner *creational
}

func (s instanceSource) InstanceFor(ctx context.Context, ip InjectionPoint) (any, error) {
	comp, err := s.c.resolver.Resolve(ip.Type, ip.Qualifiers...)
	if err != nil {
		var unsat UnsatisfiedResolutionError
		if ip.Optional && errors.As(err, &unsat) {
			return nil, nil
		}
		return nil, err
	}

	if comp.Scope.Normal {
		return s.c.clientReference(ctx, comp)
	}

	ct, err := s.c.build(ctx, comp)
	if err != nil {
		return nil, err
	}
	s.owner.dependents = append(s.owner.dependents, ct)
	return ct.Value, nil
}

// build creates one contextual instance: produce, inject, post-construct,
// then the decorator chain. The returned Contextual's destroy hook runs
// pre-destroy and disposes direct dependents in reverse creation order.
func (c *Container) build(ctx context.Context, comp *Component) (*Contextual, error) {
	ctx, err := pushCreation(ctx, comp)
	if err != nil {
		return nil, err
	}

	target := comp.Target()
	if target == nil {
		return nil, ConfigurationError{Component: comp, Reason: "component has no injection target"}
	}

	own := &creational{}
	src := instanceSource{c: c, owner: own}

	instance, err := target.Produce(ctx, src)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, ConfigurationError{Component: comp, Reason: "injection target produced nil", Cause: ErrInstanceNil}
	}
	if err := target.Inject(ctx, src, instance); err != nil {
		return nil, err
	}
	if err := target.PostConstruct(instance); err != nil {
		return nil, err
	}

	value := instance
	if decorators := comp.Decorators(); len(decorators) > 0 {
		value, err = c.applyDecorators(ctx, comp, instance, own)
		if err != nil {
			return nil, err
		}
	}

	deps := own.dependents
	destroy := func() error {
		var errs []error
		if err := target.PreDestroy(instance); err != nil {
			errs = append(errs, err)
		}
		for i := len(deps) - 1; i >= 0; i-- {
			if err := deps[i].Destroy(); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return DisposalError{Context: comp.Scope.Name, Errors: errs}
		}
		return nil
	}

	return &Contextual{Component: comp, Value: value, destroy: destroy}, nil
}

// applyDecorators wraps a raw instance in its decorator chain. The stack
// is innermost first; each decorator's delegate field receives the
// previous link, so the returned value is the outermost decorator.
// Decorator instances are dependents of the decorated instance and are
// disposed with it.
//
// A decorated component should be looked up through its delegate
// contract: concrete-type requests would see the decorator, not the
// declared struct.
func (c *Container) applyDecorators(ctx context.Context, comp *Component, inner any, owner *creational) (any, error) {
	current := inner
	for _, dec := range comp.Decorators() {
		ct, err := c.buildDecorator(ctx, dec, current)
		if err != nil {
			return nil, fmt.Errorf("decorator %s for %s: %w", formatType(dec.Type), comp, err)
		}
		owner.dependents = append(owner.dependents, ct)
		current = ct.Value
	}
	return current, nil
}

func (c *Container) buildDecorator(ctx context.Context, dec *Component, delegate any) (*Contextual, error) {
	target := dec.Target()
	if target == nil {
		return nil, ConfigurationError{Component: dec, Reason: "decorator has no injection target"}
	}

	own := &creational{}
	src := instanceSource{c: c, owner: own}

	instance, err := target.Produce(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := target.Inject(ctx, src, instance); err != nil {
		return nil, err
	}
	if err := setDelegate(dec, instance, delegate); err != nil {
		return nil, err
	}
	if err := target.PostConstruct(instance); err != nil {
		return nil, err
	}

	deps := own.dependents
	destroy := func() error {
		var errs []error
		if err := target.PreDestroy(instance); err != nil {
			errs = append(errs, err)
		}
		for i := len(deps) - 1; i >= 0; i-- {
			if err := deps[i].Destroy(); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return DisposalError{Context: "decorator", Errors: errs}
		}
		return nil
	}

	return &Contextual{Component: dec, Value: instance, destroy: destroy}, nil
}

// setDelegate wires the inner link of the chain into the decorator's
// delegate field.
func setDelegate(dec *Component, instance, delegate any) error {
	for _, ip := range dec.InjectionPoints {
		if !ip.Delegate {
			continue
		}
		field := reflect.ValueOf(instance).Elem().FieldByIndex(ip.FieldIndex)
		dv := reflect.ValueOf(delegate)
		if !dv.Type().AssignableTo(field.Type()) {
			return ConfigurationError{
				Component: dec,
				Reason:    fmt.Sprintf("delegate %s does not satisfy %s", dv.Type(), field.Type()),
			}
		}
		field.Set(dv)
		return nil
	}
	return ConfigurationError{Component: dec, Reason: "decorator has no delegate injection point"}
}

// creationPathKey carries the in-flight creation chain on the context,
// guarding against instantiation cycles that validation cannot see,
// such as normal-scoped loops resolved through direct references.
type creationPathKey struct{}

func pushCreation(ctx context.Context, comp *Component) (context.Context, error) {
	if onCreationPath(ctx, comp) {
		return nil, creationCycle(ctx, comp)
	}
	path, _ := ctx.Value(creationPathKey{}).([]*Component)
	next := make([]*Component, len(path), len(path)+1)
	copy(next, path)
	next = append(next, comp)
	return context.WithValue(ctx, creationPathKey{}, next), nil
}

func onCreationPath(ctx context.Context, comp *Component) bool {
	path, _ := ctx.Value(creationPathKey{}).([]*Component)
	for _, seen := range path {
		if seen == comp {
			return true
		}
	}
	return false
}

func creationCycle(ctx context.Context, comp *Component) error {
	path, _ := ctx.Value(creationPathKey{}).([]*Component)
	labels := make([]string, 0, len(path)+1)
	for _, p := range path {
		labels = append(labels, p.String())
	}
	labels = append(labels, comp.String())
	return CycleError{Path: labels}
}

// containerContextKey carries a container on a request context so
// adapter handlers can reach it.
type containerContextKey struct{}

// WithContainer attaches a container to a context. Framework adapters
// use it so request handlers can resolve components without globals.
func WithContainer(ctx context.Context, c *Container) context.Context {
	return context.WithValue(ctx, containerContextKey{}, c)
}

// FromContext returns the container attached with WithContainer, or
// ErrNoContainer.
func FromContext(ctx context.Context) (*Container, error) {
	if ctx == nil {
		return nil, ErrNoContainer
	}
	c, ok := ctx.Value(containerContextKey{}).(*Container)
	if !ok || c == nil {
		return nil, ErrNoContainer
	}
	return c, nil
}

