package loom

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Contextual is one stored contextual instance together with its disposal
// hook. Contexts own Contextuals; the container builds them.
type Contextual struct {
	Component *Component
	Value     any

	destroy func() error
}

// Destroy runs the instance's pre-destroy lifecycle and disposes its
// dependent instances.
func (ct *Contextual) Destroy() error {
	if ct == nil || ct.destroy == nil {
		return nil
	}
	return ct.destroy()
}

// ScopeContext stores the contextual instances of one scope within one
// execution unit. Implementations must be safe for concurrent use.
type ScopeContext interface {
	// Scope returns the scope this context serves.
	Scope() Scope

	// Active reports whether the context currently serves lookups.
	Active() bool

	// Get returns the existing instance for the component, if any.
	Get(c *Component) (any, bool)

	// GetOrCreate returns the existing instance or stores the result of
	// create. Concurrent callers for the same component observe a single
	// winner.
	GetOrCreate(c *Component, create func() (*Contextual, error)) (any, error)

	// Destroy deactivates the context and destroys every stored
	// instance in reverse creation order.
	Destroy() error
}

// Contexts is the scope/context manager: the process-wide association
// between scopes and their registered contexts. Reads never block writes;
// the per-scope lists are copy-on-write.
type Contexts struct {
	lists sync.Map // scope name -> *contextList
}

type contextList struct {
	mu   sync.Mutex
	list atomic.Value // []ScopeContext
}

func (cl *contextList) snapshot() []ScopeContext {
	if v := cl.list.Load(); v != nil {
		return v.([]ScopeContext)
	}
	return nil
}

// NewContexts creates a manager with an active application context
// already registered.
func NewContexts() *Contexts {
	m := &Contexts{}
	m.Register(NewLocalContext(ApplicationScoped))
	return m
}

// Register adds a context to its scope's list.
func (m *Contexts) Register(sc ScopeContext) error {
	if sc == nil {
		return ErrScopeContextNil
	}

	entry, _ := m.lists.LoadOrStore(sc.Scope().Name, &contextList{})
	cl := entry.(*contextList)

	cl.mu.Lock()
	defer cl.mu.Unlock()
	next := append(append([]ScopeContext(nil), cl.snapshot()...), sc)
	cl.list.Store(next)
	return nil
}

// Deregister removes a context from its scope's list.
func (m *Contexts) Deregister(sc ScopeContext) {
	if sc == nil {
		return
	}
	entry, ok := m.lists.Load(sc.Scope().Name)
	if !ok {
		return
	}
	cl := entry.(*contextList)

	cl.mu.Lock()
	defer cl.mu.Unlock()
	current := cl.snapshot()
	next := make([]ScopeContext, 0, len(current))
	for _, existing := range current {
		if existing != sc {
			next = append(next, existing)
		}
	}
	cl.list.Store(next)
}

// Lookup returns the single active context for the scope. A context
// activated on the execution unit's context.Context wins; otherwise the
// registered list is consulted. No active context and more than one
// active context are both errors.
func (m *Contexts) Lookup(ctx context.Context, scope Scope) (ScopeContext, error) {
	if sc := activeFromContext(ctx, scope); sc != nil && sc.Active() {
		return sc, nil
	}

	var active []ScopeContext
	if entry, ok := m.lists.Load(scope.Name); ok {
		for _, sc := range entry.(*contextList).snapshot() {
			if sc.Active() {
				active = append(active, sc)
			}
		}
	}

	switch len(active) {
	case 1:
		return active[0], nil
	case 0:
		return nil, ContextNotActiveError{Scope: scope}
	default:
		return nil, MultipleContextsError{Scope: scope, Count: len(active)}
	}
}

// Application returns the built-in application context.
func (m *Contexts) Application() ScopeContext {
	entry, ok := m.lists.Load(ApplicationScoped.Name)
	if !ok {
		return nil
	}
	snapshot := entry.(*contextList).snapshot()
	if len(snapshot) == 0 {
		return nil
	}
	return snapshot[0]
}

type activeContextKey struct {
	scope string
}

// WithActive activates a scope context for the execution unit carried by
// ctx. The nearest activation for a scope wins, so at most one context
// per scope is visible from any ctx chain.
func WithActive(ctx context.Context, sc ScopeContext) context.Context {
	if sc == nil {
		return ctx
	}
	return context.WithValue(ctx, activeContextKey{scope: sc.Scope().Name}, sc)
}

func activeFromContext(ctx context.Context, scope Scope) ScopeContext {
	if ctx == nil {
		return nil
	}
	sc, _ := ctx.Value(activeContextKey{scope: scope.Name}).(ScopeContext)
	return sc
}

// LocalContext is the standard ScopeContext implementation, used for the
// application context and for request, session, conversation and custom
// scope units. It is created active.
type LocalContext struct {
	id     string
	scope  Scope
	active atomic.Bool

	mu      sync.Mutex
	entries map[*Component]*localEntry
	order   []*localEntry
}

type localEntry struct {
	once       sync.Once
	ready      atomic.Bool
	contextual *Contextual
	err        error
}

// NewLocalContext creates an active context for the scope.
func NewLocalContext(scope Scope) *LocalContext {
	lc := &LocalContext{
		id:      uuid.NewString(),
		scope:   scope,
		entries: make(map[*Component]*localEntry),
	}
	lc.active.Store(true)
	return lc
}

// ID returns the context's unique identity.
func (lc *LocalContext) ID() string {
	return lc.id
}

// Scope returns the scope this context serves.
func (lc *LocalContext) Scope() Scope {
	return lc.scope
}

// Active reports whether the context serves lookups.
func (lc *LocalContext) Active() bool {
	return lc.active.Load()
}

// Activate makes the context serve lookups again.
func (lc *LocalContext) Activate() {
	lc.active.Store(true)
}

// Deactivate stops the context from serving lookups without destroying
// stored instances.
func (lc *LocalContext) Deactivate() {
	lc.active.Store(false)
}

// Get returns the stored instance for the component, if any. An entry
// whose creation is still in flight is invisible: only the ready flag,
// set after the once gate completed, licenses reading the contextual.
func (lc *LocalContext) Get(c *Component) (any, bool) {
	if !lc.Active() {
		return nil, false
	}

	lc.mu.Lock()
	entry, ok := lc.entries[c]
	lc.mu.Unlock()
	if !ok || !entry.ready.Load() {
		return nil, false
	}
	return entry.contextual.Value, true
}

// GetOrCreate returns the stored instance or stores the result of create.
// The entry's once gate makes concurrent creators observe one winner;
// creation runs outside the map lock so creating one component can
// recursively create another in the same context.
func (lc *LocalContext) GetOrCreate(c *Component, create func() (*Contextual, error)) (any, error) {
	if !lc.Active() {
		return nil, ContextNotActiveError{Scope: lc.scope}
	}

	lc.mu.Lock()
	entry, ok := lc.entries[c]
	if !ok {
		entry = &localEntry{}
		lc.entries[c] = entry
	}
	lc.mu.Unlock()

	entry.once.Do(func() {
		entry.contextual, entry.err = create()
		if entry.err != nil {
			// Failed creations are retryable: drop the entry so the
			// next caller runs create again.
			lc.mu.Lock()
			delete(lc.entries, c)
			lc.mu.Unlock()
			return
		}
		lc.mu.Lock()
		lc.order = append(lc.order, entry)
		lc.mu.Unlock()
		entry.ready.Store(true)
	})

	if entry.err != nil {
		return nil, entry.err
	}
	return entry.contextual.Value, nil
}

// Destroy deactivates the context and destroys stored instances in
// reverse creation order, collecting every failure.
func (lc *LocalContext) Destroy() error {
	lc.active.Store(false)

	lc.mu.Lock()
	order := lc.order
	lc.order = nil
	lc.entries = make(map[*Component]*localEntry)
	lc.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		if err := order[i].contextual.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return DisposalError{Context: lc.scope.Name, Errors: errs}
	}
	return nil
}
