package loom

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Shared Test Contracts
// ============================================================================

// TGateway is the interface contract most fixtures resolve by.
type TGateway interface {
	Send(msg string) error
}

// TRepository is a second contract for ambiguity and qualifier tests.
type TRepository interface {
	Find(id string) (string, bool)
}

// ============================================================================
// Shared Test Components
// ============================================================================

// TSqlGateway is an application-scoped component exposing TGateway.
type TSqlGateway struct {
	Managed `scope:"application" name:"sqlGateway"`
	_       As[TGateway]

	mu   sync.Mutex
	sent []string
}

func (g *TSqlGateway) Send(msg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	return nil
}

func (g *TSqlGateway) Sent() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

// TMockGateway is an alternative for the TGateway contract. It stays
// dormant unless enabled for the deployment.
type TMockGateway struct {
	Managed `scope:"application" alternative:"true"`
	_       As[TGateway]
}

func (g *TMockGateway) Send(string) error { return nil }

// TPaymentService is request-scoped and injects the gateway contract.
type TPaymentService struct {
	Managed `scope:"request" name:"payments"`

	Gateway TGateway `inject:""`
}

// TReportJob is dependent-scoped with an optional dependency that no
// fixture archive satisfies.
type TReportJob struct {
	Managed

	Gateway TGateway    `inject:""`
	Repo    TRepository `inject:"" optional:"true"`
}

// ============================================================================
// Lifecycle Tracking
// ============================================================================

// TRecorder collects lifecycle events across fixture instances. Register
// it with WithInstance so components can inject it.
type TRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *TRecorder) Record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *TRecorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// TConnection tracks Init and Close against the recorder.
type TConnection struct {
	Managed `scope:"application" name:"connection"`

	Recorder *TRecorder `inject:""`

	initialized atomic.Bool
	closed      atomic.Bool
}

func (c *TConnection) Init() error {
	c.initialized.Store(true)
	c.Recorder.Record("connection.init")
	return nil
}

func (c *TConnection) Close() error {
	if c.closed.Swap(true) {
		return errors.New("connection closed twice")
	}
	c.Recorder.Record("connection.close")
	return nil
}

// TSession is a dependent component owned by whatever injects it.
type TSession struct {
	Managed

	Conn     *TConnection `inject:""`
	Recorder *TRecorder   `inject:""`
}

func (s *TSession) Close() error {
	s.Recorder.Record("session.close")
	return nil
}

// TWorker owns a dependent TSession; disposing the worker must dispose
// the session.
type TWorker struct {
	Managed `scope:"request"`

	Session  *TSession  `inject:""`
	Recorder *TRecorder `inject:""`
}

func (w *TWorker) Close() error {
	w.Recorder.Record("worker.close")
	return nil
}

// ============================================================================
// Cycle Fixtures
// ============================================================================

type TCycleA struct {
	Managed

	B *TCycleB `inject:""`
}

type TCycleB struct {
	Managed

	A *TCycleA `inject:""`
}

// TSelfLoop is application-scoped and injects itself. Validation lets
// it pass (a normal scope could proxy it); direct-reference creation
// must fail instead of hanging.
type TSelfLoop struct {
	Managed `scope:"application"`

	Self *TSelfLoop `inject:""`
}

// ============================================================================
// Specialization Fixtures
// ============================================================================

// TBaseRepo is the specialization ancestor: named and qualified.
type TBaseRepo struct {
	Managed `scope:"application" name:"repo" qualifiers:"sql"`
	_       As[TRepository]

	rows map[string]string
}

func (r *TBaseRepo) Find(id string) (string, bool) {
	v, ok := r.rows[id]
	return v, ok
}

// TCachedRepo specializes TBaseRepo: it inherits the name and the sql
// qualifier and removes the ancestor from resolution.
type TCachedRepo struct {
	Managed `scope:"application" specializes:"true"`
	TBaseRepo
}

func (r *TCachedRepo) Find(id string) (string, bool) {
	return "cached:" + id, true
}

// ============================================================================
// Decorator and Interceptor Fixtures
// ============================================================================

// TAuditGateway decorates TGateway, prefixing every message.
type TAuditGateway struct {
	Decorator

	Delegate TGateway `delegate:""`
}

func (d *TAuditGateway) Send(msg string) error {
	return d.Delegate.Send("audited:" + msg)
}

// TRetryGateway is a second decorator for chain-order tests.
type TRetryGateway struct {
	Decorator

	Delegate TGateway `delegate:""`
}

func (d *TRetryGateway) Send(msg string) error {
	return d.Delegate.Send("retried:" + msg)
}

// TTxInterceptor serves the "tx" binding.
type TTxInterceptor struct {
	Interceptor `bindings:"tx"`
}

// TLedger carries the "tx" binding so the interceptor stack attaches.
type TLedger struct {
	Managed `scope:"application" bindings:"tx"`
}

// ============================================================================
// Shared Helpers
// ============================================================================

// testArchive builds an archive over the given types, failing the test
// on builder errors.
func testArchive(t *testing.T, types ...reflect.Type) Archive {
	t.Helper()
	a, err := NewArchive("test", WithTypes(types...))
	require.NoError(t, err)
	return a
}

// newTestContainer builds and deploys a container, closing it when the
// test finishes.
func newTestContainer(t *testing.T, opts ...Option) *Container {
	t.Helper()
	c, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, c.Deploy(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// newFailingContainer builds a container whose deployment is expected to
// fail and returns the deployment error.
func newFailingContainer(t *testing.T, opts ...Option) (*Container, error) {
	t.Helper()
	c, err := New(opts...)
	require.NoError(t, err)
	deployErr := c.Deploy(context.Background())
	require.Error(t, deployErr)
	return c, deployErr
}

// requestContext registers a fresh request context on the container and
// activates it on ctx. The context is destroyed via t.Cleanup unless the
// test destroys it first.
func requestContext(t *testing.T, c *Container, ctx context.Context) (context.Context, *LocalContext) {
	t.Helper()
	rc := NewLocalContext(RequestScoped)
	require.NoError(t, c.Contexts().Register(rc))
	t.Cleanup(func() {
		c.Contexts().Deregister(rc)
		_ = rc.Destroy()
	})
	return WithActive(ctx, rc), rc
}

// deployPayments is the standard happy-path deployment most container
// tests start from.
func deployPayments(t *testing.T, opts ...Option) *Container {
	t.Helper()
	archive := testArchive(t,
		TypeOf[TSqlGateway](),
		TypeOf[TPaymentService](),
	)
	return newTestContainer(t, append([]Option{WithArchives(archive)}, opts...)...)
}
