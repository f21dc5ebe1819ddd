package loom

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionComponent() *Component {
	return &Component{
		Type:  TypeOf[TSession](),
		Kind:  KindManaged,
		Scope: SessionScoped,
	}
}

func storedContextual(value any, destroy func() error) func() (*Contextual, error) {
	return func() (*Contextual, error) {
		return &Contextual{Value: value, destroy: destroy}, nil
	}
}

func TestLocalContext_GetOrCreate(t *testing.T) {
	t.Run("creates once and caches", func(t *testing.T) {
		lc := NewLocalContext(SessionScoped)
		comp := sessionComponent()
		calls := 0

		first, err := lc.GetOrCreate(comp, func() (*Contextual, error) {
			calls++
			return &Contextual{Value: "v"}, nil
		})
		require.NoError(t, err)
		second, err := lc.GetOrCreate(comp, func() (*Contextual, error) {
			calls++
			return &Contextual{Value: "other"}, nil
		})
		require.NoError(t, err)

		assert.Equal(t, "v", first)
		assert.Equal(t, "v", second)
		assert.Equal(t, 1, calls)

		got, ok := lc.Get(comp)
		assert.True(t, ok)
		assert.Equal(t, "v", got)
	})

	t.Run("failed creation is retryable", func(t *testing.T) {
		lc := NewLocalContext(SessionScoped)
		comp := sessionComponent()
		boom := errors.New("boom")

		_, err := lc.GetOrCreate(comp, func() (*Contextual, error) {
			return nil, boom
		})
		require.ErrorIs(t, err, boom)

		_, ok := lc.Get(comp)
		assert.False(t, ok, "failed creations leave nothing behind")

		got, err := lc.GetOrCreate(comp, storedContextual("recovered", nil))
		require.NoError(t, err)
		assert.Equal(t, "recovered", got)
	})

	t.Run("concurrent creators observe one winner", func(t *testing.T) {
		lc := NewLocalContext(SessionScoped)
		comp := sessionComponent()

		var calls sync.Map
		var wg sync.WaitGroup
		results := make([]any, 16)
		errs := make([]error, 16)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = lc.GetOrCreate(comp, func() (*Contextual, error) {
					calls.Store(i, true)
					return &Contextual{Value: i}, nil
				})
			}(i)
		}
		wg.Wait()

		winners := 0
		calls.Range(func(any, any) bool { winners++; return true })
		assert.Equal(t, 1, winners)
		for i, v := range results {
			require.NoError(t, errs[i])
			assert.Equal(t, results[0], v)
		}
	})

	t.Run("get ignores in-flight creations", func(t *testing.T) {
		lc := NewLocalContext(SessionScoped)
		comp := sessionComponent()

		started := make(chan struct{})
		release := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = lc.GetOrCreate(comp, func() (*Contextual, error) {
				close(started)
				<-release
				return &Contextual{Value: "v"}, nil
			})
		}()

		<-started
		_, ok := lc.Get(comp)
		assert.False(t, ok, "entries under construction are invisible")

		close(release)
		<-done
		got, ok := lc.Get(comp)
		assert.True(t, ok)
		assert.Equal(t, "v", got)
	})

	t.Run("inactive context rejects lookups", func(t *testing.T) {
		lc := NewLocalContext(SessionScoped)
		lc.Deactivate()

		_, err := lc.GetOrCreate(sessionComponent(), storedContextual("v", nil))
		var inactive ContextNotActiveError
		require.ErrorAs(t, err, &inactive)
		assert.Equal(t, SessionScoped, inactive.Scope)

		lc.Activate()
		_, err = lc.GetOrCreate(sessionComponent(), storedContextual("v", nil))
		require.NoError(t, err)
	})
}

func TestLocalContext_Destroy(t *testing.T) {
	t.Run("reverse creation order", func(t *testing.T) {
		lc := NewLocalContext(SessionScoped)
		var destroyed []string
		track := func(name string) func() error {
			return func() error {
				destroyed = append(destroyed, name)
				return nil
			}
		}

		for _, name := range []string{"first", "second", "third"} {
			comp := sessionComponent()
			_, err := lc.GetOrCreate(comp, storedContextual(name, track(name)))
			require.NoError(t, err)
		}

		require.NoError(t, lc.Destroy())
		assert.Equal(t, []string{"third", "second", "first"}, destroyed)
		assert.False(t, lc.Active())
	})

	t.Run("collects disposal failures", func(t *testing.T) {
		lc := NewLocalContext(SessionScoped)
		boom := errors.New("boom")

		_, err := lc.GetOrCreate(sessionComponent(), storedContextual("a", func() error { return boom }))
		require.NoError(t, err)
		_, err = lc.GetOrCreate(sessionComponent(), storedContextual("b", nil))
		require.NoError(t, err)

		destroyErr := lc.Destroy()
		var disposal DisposalError
		require.ErrorAs(t, destroyErr, &disposal)
		assert.Equal(t, SessionScoped.Name, disposal.Context)
		assert.Len(t, disposal.Errors, 1)
		assert.ErrorIs(t, destroyErr, boom)
	})

	t.Run("destroy empties the store", func(t *testing.T) {
		lc := NewLocalContext(SessionScoped)
		comp := sessionComponent()
		_, err := lc.GetOrCreate(comp, storedContextual("v", nil))
		require.NoError(t, err)

		require.NoError(t, lc.Destroy())
		_, ok := lc.Get(comp)
		assert.False(t, ok)

		// Reactivation serves a fresh instance.
		lc.Activate()
		got, err := lc.GetOrCreate(comp, storedContextual("fresh", nil))
		require.NoError(t, err)
		assert.Equal(t, "fresh", got)
	})
}

func TestContexts_Lookup(t *testing.T) {
	t.Run("application context is preregistered", func(t *testing.T) {
		m := NewContexts()
		sc, err := m.Lookup(context.Background(), ApplicationScoped)
		require.NoError(t, err)
		assert.Same(t, m.Application(), sc)
	})

	t.Run("no active context", func(t *testing.T) {
		m := NewContexts()
		_, err := m.Lookup(context.Background(), RequestScoped)
		var inactive ContextNotActiveError
		require.ErrorAs(t, err, &inactive)
		assert.Equal(t, RequestScoped, inactive.Scope)
	})

	t.Run("registered context serves its scope", func(t *testing.T) {
		m := NewContexts()
		rc := NewLocalContext(RequestScoped)
		require.NoError(t, m.Register(rc))
		defer m.Deregister(rc)

		sc, err := m.Lookup(context.Background(), RequestScoped)
		require.NoError(t, err)
		assert.Same(t, ScopeContext(rc), sc)
	})

	t.Run("deactivated contexts do not count", func(t *testing.T) {
		m := NewContexts()
		rc := NewLocalContext(RequestScoped)
		require.NoError(t, m.Register(rc))
		rc.Deactivate()

		_, err := m.Lookup(context.Background(), RequestScoped)
		var inactive ContextNotActiveError
		require.ErrorAs(t, err, &inactive)
	})

	t.Run("two active contexts is ambiguous", func(t *testing.T) {
		m := NewContexts()
		require.NoError(t, m.Register(NewLocalContext(RequestScoped)))
		require.NoError(t, m.Register(NewLocalContext(RequestScoped)))

		_, err := m.Lookup(context.Background(), RequestScoped)
		var multiple MultipleContextsError
		require.ErrorAs(t, err, &multiple)
		assert.Equal(t, 2, multiple.Count)
	})

	t.Run("activation on ctx wins over the registered list", func(t *testing.T) {
		m := NewContexts()
		registered := NewLocalContext(RequestScoped)
		require.NoError(t, m.Register(registered))

		carried := NewLocalContext(RequestScoped)
		ctx := WithActive(context.Background(), carried)

		sc, err := m.Lookup(ctx, RequestScoped)
		require.NoError(t, err)
		assert.Same(t, ScopeContext(carried), sc)

		// The same ctx chain disambiguates two registered contexts.
		require.NoError(t, m.Register(NewLocalContext(RequestScoped)))
		sc, err = m.Lookup(ctx, RequestScoped)
		require.NoError(t, err)
		assert.Same(t, ScopeContext(carried), sc)
	})

	t.Run("inactive carried context falls back to the list", func(t *testing.T) {
		m := NewContexts()
		registered := NewLocalContext(RequestScoped)
		require.NoError(t, m.Register(registered))

		carried := NewLocalContext(RequestScoped)
		carried.Deactivate()
		ctx := WithActive(context.Background(), carried)

		sc, err := m.Lookup(ctx, RequestScoped)
		require.NoError(t, err)
		assert.Same(t, ScopeContext(registered), sc)
	})

	t.Run("deregister removes the context", func(t *testing.T) {
		m := NewContexts()
		rc := NewLocalContext(RequestScoped)
		require.NoError(t, m.Register(rc))
		m.Deregister(rc)

		_, err := m.Lookup(context.Background(), RequestScoped)
		require.Error(t, err)
	})

	t.Run("nil context registration", func(t *testing.T) {
		m := NewContexts()
		require.ErrorIs(t, m.Register(nil), ErrScopeContextNil)
	})
}

func TestWithActive_ScopesAreIndependent(t *testing.T) {
	m := NewContexts()
	rc := NewLocalContext(RequestScoped)
	sc := NewLocalContext(SessionScoped)

	ctx := WithActive(WithActive(context.Background(), rc), sc)

	gotReq, err := m.Lookup(ctx, RequestScoped)
	require.NoError(t, err)
	gotSes, err := m.Lookup(ctx, SessionScoped)
	require.NoError(t, err)
	assert.Same(t, ScopeContext(rc), gotReq)
	assert.Same(t, ScopeContext(sc), gotSes)

	// Nearest activation per scope wins.
	inner := NewLocalContext(RequestScoped)
	gotReq, err = m.Lookup(WithActive(ctx, inner), RequestScoped)
	require.NoError(t, err)
	assert.Same(t, ScopeContext(inner), gotReq)
}

func TestLocalContext_Identity(t *testing.T) {
	a := NewLocalContext(RequestScoped)
	b := NewLocalContext(RequestScoped)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, RequestScoped, a.Scope())
	assert.True(t, a.Active())
}
