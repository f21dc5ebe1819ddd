package loom

import "context"

// Discovery supplies the deployment archives of one deployment pass.
// The returned slice must be stable: the pipeline walks it exactly once
// and never re-queries. Archive order is deployment order.
type Discovery interface {
	Discover(ctx context.Context) ([]Archive, error)
}

// DiscoveryFunc adapts a function to Discovery.
type DiscoveryFunc func(ctx context.Context) ([]Archive, error)

func (f DiscoveryFunc) Discover(ctx context.Context) ([]Archive, error) {
	return f(ctx)
}

// staticDiscovery serves the archives the container was constructed
// with. It is the default when no Discovery is installed.
type staticDiscovery struct {
	archives []Archive
}

func (d staticDiscovery) Discover(context.Context) ([]Archive, error) {
	return d.archives, nil
}
