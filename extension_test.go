package loom

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tPipelineExtension observes any subset of the pipeline through
// optional callbacks.
type tPipelineExtension struct {
	name string

	beforeDiscovery func(*BeforeDiscoveryEvent)
	processType     func(*TypeEvent)
	processTarget   func(*InjectionTargetEvent)
	afterDiscovery  func(*AfterDiscoveryEvent)
	afterValidation func(*AfterValidationEvent)
}

func (e *tPipelineExtension) Name() string { return e.name }

func (e *tPipelineExtension) BeforeDiscovery(ev *BeforeDiscoveryEvent) {
	if e.beforeDiscovery != nil {
		e.beforeDiscovery(ev)
	}
}

func (e *tPipelineExtension) ProcessType(ev *TypeEvent) {
	if e.processType != nil {
		e.processType(ev)
	}
}

func (e *tPipelineExtension) ProcessInjectionTarget(ev *InjectionTargetEvent) {
	if e.processTarget != nil {
		e.processTarget(ev)
	}
}

func (e *tPipelineExtension) AfterDiscovery(ev *AfterDiscoveryEvent) {
	if e.afterDiscovery != nil {
		e.afterDiscovery(ev)
	}
}

func (e *tPipelineExtension) AfterValidation(ev *AfterValidationEvent) {
	if e.afterValidation != nil {
		e.afterValidation(ev)
	}
}

// TJobRunner picks up its scope from an observer-registered stereotype.
type TJobRunner struct {
	Managed `stereotypes:"job"`
}

func TestExtension_NotificationOrder(t *testing.T) {
	var events []string
	ext := &tPipelineExtension{
		name: "tracer",
		beforeDiscovery: func(*BeforeDiscoveryEvent) {
			events = append(events, "beforeDiscovery")
		},
		processType: func(ev *TypeEvent) {
			events = append(events, "processType:"+ev.Meta().Type.Name())
		},
		processTarget: func(ev *InjectionTargetEvent) {
			events = append(events, "processTarget:"+ev.Component().Type.Name())
		},
		afterDiscovery: func(*AfterDiscoveryEvent) {
			events = append(events, "afterDiscovery")
		},
		afterValidation: func(ev *AfterValidationEvent) {
			events = append(events, fmt.Sprintf("afterValidation:sealed=%v", ev.Registry().Sealed()))
		},
	}

	newTestContainer(t,
		WithArchives(testArchive(t, TypeOf[TSqlGateway]())),
		WithExtensions(ext),
	)

	assert.Equal(t, []string{
		"beforeDiscovery",
		"processType:TSqlGateway",
		"processTarget:TSqlGateway",
		"afterDiscovery",
		"afterValidation:sealed=true",
	}, events)
}

func TestExtension_RegistrationOrder(t *testing.T) {
	var order []string
	record := func(name string) *tPipelineExtension {
		return &tPipelineExtension{
			name: name,
			beforeDiscovery: func(*BeforeDiscoveryEvent) {
				order = append(order, name)
			},
		}
	}

	newTestContainer(t, WithExtensions(record("first"), record("second"), record("third")))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestExtension_AddType(t *testing.T) {
	ext := &tPipelineExtension{
		name: "synthesizer",
		beforeDiscovery: func(ev *BeforeDiscoveryEvent) {
			ev.AddType(TypeOf[TSqlGateway]())
		},
	}
	c := newTestContainer(t, WithExtensions(ext))

	gw, err := Instance[TGateway](context.Background(), c)
	require.NoError(t, err)
	require.NoError(t, gw.Send("hello"))
}

func TestExtension_Veto(t *testing.T) {
	ext := &tPipelineExtension{
		name: "censor",
		processType: func(ev *TypeEvent) {
			if ev.Meta().Type == TypeOf[TMockGateway]() {
				ev.Veto()
			}
		},
	}
	c := newTestContainer(t,
		WithArchives(testArchive(t, TypeOf[TSqlGateway](), TypeOf[TMockGateway]())),
		WithExtensions(ext),
	)

	assert.Empty(t, c.Registry().ByType(TypeOf[TMockGateway]()), "vetoed candidates never register")

	gw, err := c.Resolve(TypeOf[TGateway]())
	require.NoError(t, err)
	assert.Equal(t, TypeOf[TSqlGateway](), gw.Type)
}

func TestExtension_MetadataMutation(t *testing.T) {
	ext := &tPipelineExtension{
		name: "renamer",
		processType: func(ev *TypeEvent) {
			if ev.Meta().Type == TypeOf[TSqlGateway]() {
				ev.Meta().Name = "patched"
			}
		},
	}
	c := newTestContainer(t,
		WithArchives(testArchive(t, TypeOf[TSqlGateway]())),
		WithExtensions(ext),
	)

	_, err := c.ResolveName("patched")
	assert.NoError(t, err)
	_, err = c.ResolveName("sqlGateway")
	assert.Error(t, err, "the declared name was replaced before registration")
}

// tCountingTarget wraps the default target and counts productions.
type tCountingTarget struct {
	inner    InjectionTarget
	produced *atomic.Int32
}

func (t *tCountingTarget) Produce(ctx context.Context, src InstanceSource) (any, error) {
	t.produced.Add(1)
	return t.inner.Produce(ctx, src)
}

func (t *tCountingTarget) Inject(ctx context.Context, src InstanceSource, instance any) error {
	return t.inner.Inject(ctx, src, instance)
}

func (t *tCountingTarget) PostConstruct(instance any) error {
	return t.inner.PostConstruct(instance)
}

func (t *tCountingTarget) PreDestroy(instance any) error {
	return t.inner.PreDestroy(instance)
}

func TestExtension_ReplaceInjectionTarget(t *testing.T) {
	var produced atomic.Int32
	ext := &tPipelineExtension{
		name: "wrapper",
		processTarget: func(ev *InjectionTargetEvent) {
			if ev.Component().Type == TypeOf[TSqlGateway]() {
				ev.SetTarget(&tCountingTarget{inner: ev.Target(), produced: &produced})
			}
		},
	}
	c := newTestContainer(t,
		WithArchives(testArchive(t, TypeOf[TSqlGateway]())),
		WithExtensions(ext),
	)

	_, err := Instance[TGateway](context.Background(), c)
	require.NoError(t, err)
	_, err = Instance[TGateway](context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, int32(1), produced.Load(), "application scope produces once through the custom target")
}

func TestExtension_AfterDiscoveryRegistrations(t *testing.T) {
	recorder := &TRecorder{}
	ext := &tPipelineExtension{
		name: "registrar",
		afterDiscovery: func(ev *AfterDiscoveryEvent) {
			ev.AddInstance(recorder)
			ev.AddFactory(func(r *TRecorder) string {
				r.Record("factory.ran")
				return "postgres://localhost"
			}, Named("dsn"))
		},
	}
	c := newTestContainer(t, WithExtensions(ext))
	ctx := context.Background()

	got, err := Instance[*TRecorder](ctx, c)
	require.NoError(t, err)
	assert.Same(t, recorder, got, "instance registrations hand out the original")

	dsn, err := InstanceNamed[string](ctx, c, "dsn")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost", dsn)
	assert.Equal(t, []string{"factory.ran"}, recorder.Events(), "factory parameters resolve like injection points")
}

func TestExtension_CustomScope(t *testing.T) {
	jobScope := Scope{Name: "job", Normal: true}
	ext := &tPipelineExtension{
		name: "scheduler",
		beforeDiscovery: func(ev *BeforeDiscoveryEvent) {
			ev.RegisterScope(jobScope)
			ev.AddStereotype(Stereotype{Name: "job", DefaultScope: jobScope, Named: true})
		},
		afterDiscovery: func(ev *AfterDiscoveryEvent) {
			ev.RegisterContext(NewLocalContext(jobScope))
		},
	}
	c := newTestContainer(t,
		WithArchives(testArchive(t, TypeOf[TJobRunner]())),
		WithExtensions(ext),
	)

	comp, err := c.ResolveName("tJobRunner")
	require.NoError(t, err)
	assert.Equal(t, jobScope, comp.Scope)

	got, err := Instance[*TJobRunner](context.Background(), c)
	require.NoError(t, err)
	assert.NotNil(t, got, "the observer-registered context serves the custom scope")
}

func TestExtension_ErrorAggregation(t *testing.T) {
	errA := errors.New("missing credentials")
	errB := errors.New("missing region")
	failing := func(name string, reported error) *tPipelineExtension {
		return &tPipelineExtension{
			name: name,
			beforeDiscovery: func(ev *BeforeDiscoveryEvent) {
				ev.ReportError(reported)
			},
		}
	}

	_, err := newFailingContainer(t, WithExtensions(
		failing("aws", errA),
		failing("gcp", errB),
	))

	var dep DeploymentError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, PhaseBeforeDiscoveryFired, dep.Phase)

	var extErr ExtensionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "BeforeDiscovery", extErr.Event)

	// Both observers ran; both errors are attributed to their extension.
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Contains(t, err.Error(), "aws:")
	assert.Contains(t, err.Error(), "gcp:")
}

func TestExtension_InvalidFactoryReported(t *testing.T) {
	ext := &tPipelineExtension{
		name: "registrar",
		afterDiscovery: func(ev *AfterDiscoveryEvent) {
			ev.AddFactory(nil)
		},
	}

	_, err := newFailingContainer(t, WithExtensions(ext))
	var dep DeploymentError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, PhaseAfterDiscoveryFired, dep.Phase)
	assert.ErrorIs(t, err, ErrFactoryNil)
}
