package loom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStereotypeSet_Register(t *testing.T) {
	set := newStereotypeSet()

	require.NoError(t, set.register(Stereotype{Name: "service", DefaultScope: ApplicationScoped}))

	t.Run("empty name", func(t *testing.T) {
		err := set.register(Stereotype{})
		require.Error(t, err)
	})

	t.Run("duplicate name", func(t *testing.T) {
		err := set.register(Stereotype{Name: "service"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"service"`)
	})
}

func TestStereotypeSet_Check(t *testing.T) {
	t.Run("unknown composed name", func(t *testing.T) {
		set := newStereotypeSet()
		require.NoError(t, set.register(Stereotype{Name: "svc", Stereotypes: []string{"missing"}}))

		err := set.check()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"missing"`)
	})

	t.Run("composition cycle", func(t *testing.T) {
		set := newStereotypeSet()
		require.NoError(t, set.register(Stereotype{Name: "a", Stereotypes: []string{"b"}}))
		require.NoError(t, set.register(Stereotype{Name: "b", Stereotypes: []string{"a"}}))

		err := set.check()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})

	t.Run("diamond composition is fine", func(t *testing.T) {
		set := newStereotypeSet()
		require.NoError(t, set.register(Stereotype{Name: "base"}))
		require.NoError(t, set.register(Stereotype{Name: "left", Stereotypes: []string{"base"}}))
		require.NoError(t, set.register(Stereotype{Name: "right", Stereotypes: []string{"base"}}))
		require.NoError(t, set.register(Stereotype{Name: "top", Stereotypes: []string{"left", "right"}}))

		require.NoError(t, set.check())
	})
}

func TestStereotypeSet_Flatten(t *testing.T) {
	set := newStereotypeSet()
	require.NoError(t, set.register(Stereotype{
		Name:         "persistent",
		DefaultScope: ApplicationScoped,
		Qualifiers:   []Qualifier{Qual("stored")},
		Bindings:     []string{"tx"},
	}))
	require.NoError(t, set.register(Stereotype{
		Name:        "mock",
		Alternative: true,
	}))
	require.NoError(t, set.register(Stereotype{
		Name:        "testRepo",
		Named:       true,
		Stereotypes: []string{"persistent", "mock"},
	}))

	t.Run("transitive effect", func(t *testing.T) {
		effect, err := set.flatten([]string{"testRepo"})
		require.NoError(t, err)

		assert.Equal(t, []Scope{ApplicationScoped}, effect.defaultScopes)
		assert.Equal(t, []Qualifier{Qual("stored")}, effect.qualifiers)
		assert.Equal(t, []string{"tx"}, effect.bindings)
		assert.True(t, effect.alternative)
		assert.True(t, effect.named)
	})

	t.Run("duplicate scopes collapse", func(t *testing.T) {
		require.NoError(t, set.register(Stereotype{Name: "also", DefaultScope: ApplicationScoped}))
		effect, err := set.flatten([]string{"persistent", "also"})
		require.NoError(t, err)
		assert.Equal(t, []Scope{ApplicationScoped}, effect.defaultScopes)
	})

	t.Run("conflicting default scopes surface both", func(t *testing.T) {
		require.NoError(t, set.register(Stereotype{Name: "perReq", DefaultScope: RequestScoped}))
		effect, err := set.flatten([]string{"persistent", "perReq"})
		require.NoError(t, err)
		assert.Len(t, effect.defaultScopes, 2, "definition reports the ambiguity, flatten only collects")
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := set.flatten([]string{"ghost"})
		require.Error(t, err)
	})

	t.Run("empty input", func(t *testing.T) {
		effect, err := set.flatten(nil)
		require.NoError(t, err)
		assert.Empty(t, effect.defaultScopes)
		assert.False(t, effect.named)
	})
}

func TestDefaultComponentName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"PaymentService", "paymentService"},
		{"URL", "uRL"},
		{"x", "x"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, defaultComponentName(tc.in), "input %q", tc.in)
	}
}

// TModelComponent exercises the builtin model stereotype end to end.
type TModelComponent struct {
	Managed `stereotypes:"model"`
}

func TestModelStereotype_Deployed(t *testing.T) {
	c := newTestContainer(t, WithArchives(testArchive(t, TypeOf[TModelComponent]())))

	comp, err := c.ResolveName("tModelComponent")
	require.NoError(t, err)
	assert.Equal(t, RequestScoped, comp.Scope, "model components default to request scope")
	assert.Equal(t, []string{"model"}, comp.Stereotypes)

	// Request scope applies: without an active request context the
	// instance is unreachable.
	_, err = Instance[*TModelComponent](context.Background(), c)
	var inactive ContextNotActiveError
	require.ErrorAs(t, err, &inactive)

	ctx, _ := requestContext(t, c, context.Background())
	got, err := Instance[*TModelComponent](ctx, c)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
