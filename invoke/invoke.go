// Package invoke runs a named routine in every worker process and in the
// controller.
//
// Each process owns one Host: a table of routines registered by the code
// running in that process. Invokers never ship code between processes; they
// ask each Host to run the routine it registered under a name. The
// controller's copy of the routine is passed in directly.
//
// Two invokers are provided:
//
//   - Local simulates the worker processes with separate Hosts in one address
//     space, for tests and examples.
//   - BusInvoker reaches real worker processes over a bus.MessageBus; the
//     worker side is served by Agent.
package invoke

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/dunitkit/errors"
	"github.com/vinayprograms/dunitkit/logging"
	"github.com/vinayprograms/dunitkit/telemetry"
)

// ControllerIndex is the worker index the controller process reports.
const ControllerIndex = -1

// DefaultVMCount is the number of workers a distributed test starts with.
const DefaultVMCount = 4

// Routine is the unit of work run once per process.
type Routine func(ctx context.Context) error

// Invoker runs a routine in every worker process and in the controller.
type Invoker interface {
	// InvokeInEveryWorkerAndController runs the routine registered as name
	// in every worker, and routine itself in the controller. It returns
	// after every target ran (or after the first failure when configured
	// to fail fast). A nil routine runs the controller Host's copy.
	InvokeInEveryWorkerAndController(ctx context.Context, name string, routine Routine) error
}

type autoCloseKey struct{}

// WithAutoClose returns a context that tells every routine of a broadcast
// whether to release what it holds. BusInvoker forwards it to workers.
func WithAutoClose(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, autoCloseKey{}, enabled)
}

// AutoCloseFrom reports the release policy set by WithAutoClose, if any.
func AutoCloseFrom(ctx context.Context) (enabled, ok bool) {
	enabled, ok = ctx.Value(autoCloseKey{}).(bool)
	return enabled, ok
}

// Target identifies one process a routine runs in.
type Target struct {
	ID         string
	Index      int
	Controller bool
}

// Host is the routine table of one process.
type Host struct {
	id string

	mu       sync.RWMutex
	routines map[string]Routine
}

// NewHost creates an empty routine table for the process identified by id.
func NewHost(id string) *Host {
	return &Host{
		id:       id,
		routines: make(map[string]Routine),
	}
}

// ID returns the process identity.
func (h *Host) ID() string {
	return h.id
}

// Register installs routine under name, replacing any earlier registration.
func (h *Host) Register(name string, routine Routine) error {
	if name == "" {
		return errors.InvalidInput("routine name is empty", errors.WithWorkerID(h.id))
	}
	if routine == nil {
		return errors.InvalidInput(fmt.Sprintf("routine %q is nil", name), errors.WithWorkerID(h.id))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.routines[name] = routine
	return nil
}

// Unregister removes a routine. Unknown names are ignored.
func (h *Host) Unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.routines, name)
}

// Names returns the registered routine names in sorted order.
func (h *Host) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.routines))
	for name := range h.routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the routine registered under name.
func (h *Host) Run(ctx context.Context, name string) error {
	h.mu.RLock()
	routine, ok := h.routines[name]
	h.mu.RUnlock()

	if !ok {
		return errors.RoutineNotFound(name, errors.WithWorkerID(h.id))
	}
	return runRoutine(ctx, routine)
}

// RunAll executes every registered routine once, in name order, and joins
// their errors.
func (h *Host) RunAll(ctx context.Context) error {
	var errs []error
	for _, name := range h.Names() {
		if err := h.Run(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runRoutine turns a panicking routine into a PANIC error.
func runRoutine(ctx context.Context, routine Routine) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	return routine(ctx)
}

// fanout holds what Local and BusInvoker share: visiting targets in order,
// logging, tracing and error collection.
type fanout struct {
	failFast bool
	logger   *logging.Logger
	tracer   *telemetry.Tracer
}

func newFanout(failFast bool, logger *logging.Logger, tracer *telemetry.Tracer) fanout {
	if logger == nil {
		logger = logging.Nop()
	}
	if tracer == nil {
		tracer = telemetry.GetTracer()
	}
	return fanout{failFast: failFast, logger: logger, tracer: tracer}
}

// run calls fn for each target and returns the joined failures. Each failure
// is tagged WORKER_FAILED with the target's ID.
func (f fanout) run(ctx context.Context, name string, targets []Target, fn func(context.Context, Target) error) error {
	var errs []error
	for _, target := range targets {
		spanCtx, span := f.tracer.StartInvokeSpan(ctx, name, target.ID)
		start := time.Now()
		err := fn(spanCtx, target)
		f.tracer.EndInvokeSpan(span, telemetry.InvokeSpanOptions{
			WorkerID:   target.ID,
			Index:      target.Index,
			Controller: target.Controller,
		}, err)
		f.logger.InvocationResult(target.ID, name, time.Since(start), err)

		if err == nil {
			continue
		}
		errs = append(errs, errors.WrapWithCode(err, errors.ErrCodeWorkerFailed,
			fmt.Sprintf("%s failed in %s", name, target.ID),
			errors.WithWorkerID(target.ID), errors.WithRoutine(name)))
		if f.failFast {
			break
		}
	}
	return errors.Join(errs...)
}
