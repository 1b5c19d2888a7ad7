package teardown

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/vinayprograms/dunitkit/errors"
	"github.com/vinayprograms/dunitkit/invoke"
	"github.com/vinayprograms/dunitkit/logging"
	"github.com/vinayprograms/dunitkit/reference"
	"github.com/vinayprograms/dunitkit/telemetry"
)

// DefaultName is the routine name a Rule registers when none is given.
const DefaultName = "dunit.reference"

// Config configures a Rule.
type Config struct {
	// Name of the teardown routine. Every process must use the same name
	// for the same rule. Default: DefaultName
	Name string

	// Host is this process's routine table. Required.
	Host *invoke.Host

	// Invoker broadcasts the routine. Only the controller needs one; After
	// fails without it.
	Invoker invoke.Invoker

	Logger *logging.Logger
	Tracer *telemetry.Tracer
}

// Rule owns one reference slot per process and tears it down everywhere
// when the test ends.
type Rule[V any] struct {
	name    string
	ref     *reference.Reference[V]
	host    *invoke.Host
	invoker invoke.Invoker
	logger  *logging.Logger
	tracer  *telemetry.Tracer
}

// New creates a Rule and registers its teardown routine on cfg.Host.
func New[V any](cfg Config) (*Rule[V], error) {
	if cfg.Host == nil {
		return nil, errors.InvalidInput("teardown rule needs a host")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}

	r := &Rule[V]{
		name:    cfg.Name,
		ref:     reference.New[V](),
		host:    cfg.Host,
		invoker: cfg.Invoker,
		logger:  cfg.Logger.WithComponent("teardown").WithWorker(cfg.Host.ID()),
		tracer:  cfg.Tracer,
	}
	if err := cfg.Host.Register(r.name, r.teardown); err != nil {
		return nil, err
	}
	return r, nil
}

// Name returns the routine name.
func (r *Rule[V]) Name() string {
	return r.name
}

// Reference exposes the slot this process holds.
func (r *Rule[V]) Reference() *reference.Reference[V] {
	return r.ref
}

// Get returns this process's value and whether one is held.
func (r *Rule[V]) Get() (V, bool) {
	return r.ref.Get()
}

// Set replaces this process's value without releasing the old one.
func (r *Rule[V]) Set(v V) *Rule[V] {
	r.ref.Set(v)
	return r
}

// AutoClose sets whether teardown releases the value. Set on the
// controller's rule, it governs every worker during After.
func (r *Rule[V]) AutoClose(enabled bool) *Rule[V] {
	r.ref.AutoClose(enabled)
	return r
}

// AutoCloseEnabled reports whether teardown releases the value.
func (r *Rule[V]) AutoCloseEnabled() bool {
	return r.ref.AutoCloseEnabled()
}

// Before runs when the test starts. It does nothing.
func (r *Rule[V]) Before(context.Context) error {
	return nil
}

// After tears the slot down in the controller and in every worker.
func (r *Rule[V]) After(ctx context.Context) error {
	if r.invoker == nil {
		return errors.InvalidInput(fmt.Sprintf("rule %s has no invoker", r.name),
			errors.WithRoutine(r.name), errors.WithWorkerID(r.host.ID()))
	}

	ctx, span := r.tracer.StartTeardownSpan(ctx, r.name)
	r.logger.TeardownStart(r.name)
	start := time.Now()

	ctx = invoke.WithAutoClose(ctx, r.AutoCloseEnabled())
	err := r.invoker.InvokeInEveryWorkerAndController(ctx, r.name, r.teardown)

	r.tracer.EndTeardownSpan(span, failures(err), err)
	r.logger.TeardownComplete(r.name, time.Since(start), err)
	return err
}

// Apply runs After when t finishes and reports its error on t.
func (r *Rule[V]) Apply(t testing.TB) {
	t.Helper()
	t.Cleanup(func() {
		if err := r.After(context.Background()); err != nil {
			t.Errorf("teardown %s: %v", r.name, err)
		}
	})
}

// Close removes the routine from the host. The slot is left as it is.
func (r *Rule[V]) Close() error {
	r.host.Unregister(r.name)
	return nil
}

// teardown is the routine every process runs against its own slot. The
// controller's auto-close policy, when the broadcast carries one, wins over
// this process's own.
func (r *Rule[V]) teardown(ctx context.Context) error {
	autoClose, ok := invoke.AutoCloseFrom(ctx)
	if !ok {
		autoClose = r.ref.AutoCloseEnabled()
	}
	v, c, err := r.ref.TakeWith(autoClose)
	if c.Found() {
		r.logger.ReleaseInvoked(fmt.Sprintf("%T", v), c.String(), err)
	}
	return err
}

func failures(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
