// Package loom provides a component-model dependency injection container
// for Go applications. Components are plain structs declared with tags,
// discovered from deployment archives, and served from scoped contexts,
// in the manner of enterprise component containers.
//
// # Overview
//
// loom deploys an application once and then serves typed lookups for the
// rest of its life. The container provides:
//   - Declarative components: struct tags, no registration calls per type
//   - Scoped lifecycles: application, request, and custom scopes
//   - Qualifier-based resolution over a type-closure index
//   - Alternatives, specialization, and stereotypes
//   - Decorator chains and interceptor bindings
//   - A deployment pipeline with observable phases and fail-fast errors
//   - Extensions that observe and modify the deployment
//   - YAML configuration overriding declared metadata
//   - Thread-safe lookups after deployment
//
// # Basic Usage
//
// Declare components, gather them into an archive, deploy, and resolve:
//
//	type Gateway interface{ Charge(amount int) error }
//
//	type StripeGateway struct {
//	    loom.Managed `scope:"application"`
//	    _            loom.As[Gateway]
//	}
//
//	type PaymentService struct {
//	    loom.Managed `scope:"request"`
//
//	    Gateway Gateway `inject:""`
//	}
//
//	archive, err := loom.NewArchive("app",
//	    loom.WithTypes(
//	        reflect.TypeOf(StripeGateway{}),
//	        reflect.TypeOf(PaymentService{}),
//	    ),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	container, err := loom.New(loom.WithArchives(archive))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := container.Deploy(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer container.Close()
//
//	service, err := loom.Instance[*PaymentService](ctx, container)
//
// # Scopes
//
// Every component lives in a scope. Normal scopes (application, request,
// custom) hold at most one instance per active context; the dependent
// pseudo-scope creates a fresh instance per injection point, disposed
// with its owner.
//
//   - ApplicationScoped: one instance for the container's lifetime
//   - RequestScoped: one instance per request context
//   - Dependent: a new instance bound to whatever receives it
//
// Request contexts are activated per goroutine chain:
//
//	rc := loom.NewLocalContext(loom.RequestScoped)
//	container.Contexts().Register(rc)
//	ctx = loom.WithActive(ctx, rc)
//	defer rc.Destroy()
//
// # Qualifiers
//
// Components carry qualifiers; injection points select by them:
//
//	type PrimaryDB struct {
//	    loom.Managed `scope:"application" qualifiers:"region=us"`
//	}
//
//	type Reporting struct {
//	    DB *PrimaryDB `inject:"" qualifiers:"region=us"`
//	}
//
// Lookup-side qualifiers work the same way:
//
//	db, err := loom.Instance[*PrimaryDB](ctx, container, loom.QualValue("region", "us"))
//
// # Alternatives and Specialization
//
// An alternative replaces the components it shares contracts with, but
// only when enabled for the deployment:
//
//	type MockGateway struct {
//	    loom.Managed `scope:"application" alternative:"true"`
//	    _            loom.As[Gateway]
//	}
//
//	container, err := loom.New(
//	    loom.WithArchives(archive),
//	    loom.WithAlternatives(reflect.TypeOf(MockGateway{})),
//	)
//
// A specializing component embeds its ancestor, inherits its name and
// qualifiers, and removes it from resolution entirely.
//
// # Stereotypes
//
// A stereotype bundles a default scope, qualifiers, and flags under one
// tag, so application code can say `stereotypes:"model"` instead of
// repeating the bundle on every type.
//
// # Producers
//
// Factory functions and ready-made instances register through archive
// options when a component cannot be built by field injection alone:
//
//	archive, err := loom.NewArchive("infra",
//	    loom.WithFactory(func(cfg *Config) (*sql.DB, error) {
//	        return sql.Open("postgres", cfg.DSN)
//	    }, loom.InScope(loom.ApplicationScoped)),
//	    loom.WithInstance(cfg),
//	)
//
// # Deployment Pipeline
//
// Deploy runs a fixed sequence of phases: extensions load, discovery
// fires, configuration deploys, types define, specialization and
// validation check the whole graph, and the container opens for lookups.
// The first error aborts deployment; Phase() reports where, and the
// failed deployment is never retried.
//
// # Extensions
//
// Extensions observe the pipeline and can add types, veto discovered
// components, replace injection targets, and register custom contexts:
//
//	type metricsExtension struct{}
//
//	func (metricsExtension) Name() string { return "metrics" }
//
//	func (metricsExtension) ProcessType(ev *loom.TypeEvent) {
//	    if strings.HasSuffix(ev.Meta().Type.Name(), "Legacy") {
//	        ev.Veto()
//	    }
//	}
//
// # Configuration
//
// YAML sources attached to an archive override declared metadata and
// enable alternatives, decorators, and interceptors declaratively:
//
//	components:
//	  "app.PaymentService":
//	    scope: request
//	    name: payments
//	alternatives:
//	  - "app.MockGateway"
//
// # Thread Safety
//
// All lookup operations are safe for concurrent use once Deploy has
// returned. Deployment itself is serialized; contexts activated with
// WithActive are visible only to the goroutines holding that context.
//
// # Error Handling
//
// loom reports failures through typed errors:
//   - DeploymentError: which phase failed, and why
//   - UnsatisfiedResolutionError: no component matches a lookup
//   - AmbiguousResolutionError: several components survive tie-breaking
//   - ContextNotActiveError: a normal scope has no active context
//   - CycleError: an instantiation loop, at validation or creation time
//
// # Best Practices
//
//   - Keep archives per deployment unit and deploy once at startup
//   - Depend on interface contracts, not concrete structs
//   - Use alternatives for test doubles instead of conditional wiring
//   - Give request-scoped state a request context, not a global
//   - Always Close the container to run pre-destroy callbacks
package loom
