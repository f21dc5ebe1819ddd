package loom

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TIntrospector injects the container's bootstrap components.
type TIntrospector struct {
	Managed `scope:"application"`

	Container *Container   `inject:""`
	Log       *slog.Logger `inject:""`
	Contexts  *Contexts    `inject:""`
}

// TTenantService lives in a custom scope registered at construction.
type TTenantService struct {
	Managed `scope:"tenant"`
}

func TestDeploy_PhaseProgression(t *testing.T) {
	c, err := New(WithArchives(testArchive(t, TypeOf[TSqlGateway]())))
	require.NoError(t, err)
	assert.Equal(t, PhaseNotStarted, c.Phase())
	assert.False(t, c.Deployed())

	require.NoError(t, c.Deploy(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, PhaseDeployed, c.Phase())
	assert.True(t, c.Deployed())
	assert.True(t, c.Registry().Sealed())
}

func TestDeploy_FailureParksAtPhase(t *testing.T) {
	c, deployErr := newFailingContainer(t, WithArchives(testArchive(t, TypeOf[TPaymentService]())))

	assert.Equal(t, PhaseValidated, c.Phase(), "the pipeline parks at the failing phase")
	assert.False(t, c.Deployed())

	var dep DeploymentError
	require.ErrorAs(t, deployErr, &dep)
	assert.Equal(t, PhaseValidated, dep.Phase)
}

func TestDeploy_FailureIsSticky(t *testing.T) {
	c, first := newFailingContainer(t, WithArchives(testArchive(t, TypeOf[TPaymentService]())))

	second := c.Deploy(context.Background())
	assert.Equal(t, first, second, "a failed deployment is never retried")
	assert.False(t, c.Deployed())

	_, err := c.Resolve(TypeOf[TGateway]())
	assert.ErrorIs(t, err, ErrNotDeployed)
}

func TestDeploy_Idempotent(t *testing.T) {
	c := deployPayments(t)
	count := c.Registry().Count()

	require.NoError(t, c.Deploy(context.Background()))
	assert.Equal(t, count, c.Registry().Count(), "re-deploying is a no-op")
}

func TestDeploy_BootstrapComponents(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	c := newTestContainer(t,
		WithArchives(testArchive(t, TypeOf[TIntrospector]())),
		WithLogger(log),
	)

	got, err := Instance[*TIntrospector](context.Background(), c)
	require.NoError(t, err)
	assert.Same(t, c, got.Container, "components can inject the container itself")
	assert.Same(t, log, got.Log)
	assert.Same(t, c.Contexts(), got.Contexts)
}

func TestDeploy_ExtensionHygiene(t *testing.T) {
	expectPhase := func(t *testing.T, err error, phase Phase) {
		t.Helper()
		var dep DeploymentError
		require.ErrorAs(t, err, &dep)
		assert.Equal(t, phase, dep.Phase)
	}

	t.Run("nil extension", func(t *testing.T) {
		_, err := newFailingContainer(t, WithExtensions(nil, &tPipelineExtension{name: "ok"}))
		expectPhase(t, err, PhaseExtensionsLoaded)
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := newFailingContainer(t, WithExtensions(&tPipelineExtension{}))
		expectPhase(t, err, PhaseExtensionsLoaded)
	})

	t.Run("duplicate names", func(t *testing.T) {
		_, err := newFailingContainer(t, WithExtensions(
			&tPipelineExtension{name: "twin"},
			&tPipelineExtension{name: "twin"},
		))
		expectPhase(t, err, PhaseExtensionsLoaded)
		assert.Contains(t, err.Error(), `"twin"`)
	})
}

func TestDeploy_CustomDiscovery(t *testing.T) {
	t.Run("dynamic archives", func(t *testing.T) {
		discovered := false
		c := newTestContainer(t, WithDiscovery(DiscoveryFunc(func(ctx context.Context) ([]Archive, error) {
			discovered = true
			return []Archive{testArchive(t, TypeOf[TSqlGateway]())}, nil
		})))

		assert.True(t, discovered)
		_, err := c.Resolve(TypeOf[TGateway]())
		assert.NoError(t, err)
	})

	t.Run("discovery failure", func(t *testing.T) {
		boom := errors.New("scan failed")
		_, err := newFailingContainer(t, WithDiscovery(DiscoveryFunc(func(context.Context) ([]Archive, error) {
			return nil, boom
		})))

		var dep DeploymentError
		require.ErrorAs(t, err, &dep)
		assert.Equal(t, PhaseConfigDeployed, dep.Phase)
		assert.ErrorIs(t, err, boom)
	})
}

func TestDeploy_CustomScopeOption(t *testing.T) {
	tenant := Scope{Name: "tenant", Normal: true}
	c := newTestContainer(t,
		WithScopes(tenant),
		WithArchives(testArchive(t, TypeOf[TTenantService]())),
	)

	comp, err := c.Resolve(TypeOf[TTenantService]())
	require.NoError(t, err)
	assert.Equal(t, tenant, comp.Scope)

	// No context is active for the scope until one is registered.
	_, err = Instance[*TTenantService](context.Background(), c)
	var inactive ContextNotActiveError
	require.ErrorAs(t, err, &inactive)

	tc := NewLocalContext(tenant)
	require.NoError(t, c.Contexts().Register(tc))
	defer func() {
		c.Contexts().Deregister(tc)
		_ = tc.Destroy()
	}()

	got, err := Instance[*TTenantService](context.Background(), c)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestDeploy_ScopeCollision(t *testing.T) {
	_, err := New(WithScopes(Scope{Name: "request", Normal: false}))
	require.Error(t, err, "builtin scope names cannot change semantics")

	c, err := New(WithScopes(RequestScoped))
	require.NoError(t, err, "re-registering identical semantics is fine")
	_ = c
}
