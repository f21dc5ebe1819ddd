package loom

import (
	"context"
	"sync"
)

// ProxyFactory builds client references for normal-scoped components. A
// client reference stands in for the contextual instance, which may not
// exist yet and may change identity between activations; a generated
// proxy routes every invocation through the active context. The core
// treats the factory as a black box: whatever it returns must satisfy
// the component's contract types.
//
// No factory is installed by default. Without one, the container hands
// out the contextual instance itself, resolved from the scope's active
// context at lookup time. That is the right behavior for in-process use;
// the cost is that a held reference stays bound to the context it was
// resolved against.
type ProxyFactory interface {
	// CreateProxy is called on first client use. Racing first lookups
	// may each invoke it, but exactly one result is cached and handed to
	// every caller. It receives the component descriptor and a supplier
	// that resolves the current contextual instance, creating it in the
	// active context if needed.
	CreateProxy(c *Component, supplier ContextualSupplier) (any, error)
}

// ContextualSupplier resolves the current contextual instance of the
// component being proxied.
type ContextualSupplier func(ctx context.Context) (any, error)

// proxyCache stores one client proxy per component. Population is
// first-writer-wins: a lost race costs one duplicate proxy allocation
// and both goroutines observe the same reference afterwards.
type proxyCache struct {
	refs sync.Map // *Component -> any
}

func (pc *proxyCache) get(c *Component) (any, bool) {
	return pc.refs.Load(c)
}

func (pc *proxyCache) share(c *Component, ref any) any {
	if actual, loaded := pc.refs.LoadOrStore(c, ref); loaded {
		return actual
	}
	return ref
}
