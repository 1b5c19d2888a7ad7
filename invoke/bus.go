package invoke

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/dunitkit/bus"
	"github.com/vinayprograms/dunitkit/errors"
	"github.com/vinayprograms/dunitkit/heartbeat"
	"github.com/vinayprograms/dunitkit/logging"
	"github.com/vinayprograms/dunitkit/registry"
	"github.com/vinayprograms/dunitkit/telemetry"
)

// DefaultTimeout bounds a single worker's reply.
const DefaultTimeout = 30 * time.Second

// BusConfig configures a BusInvoker.
type BusConfig struct {
	// Bus carries requests to worker Agents. Required.
	Bus bus.MessageBus

	// Registry supplies the ordered worker set. Required.
	Registry registry.Registry

	// Controller is the controller's Host. Default: an empty Host named
	// "controller".
	Controller *Host

	// Monitor, when set with SkipDead, lets the invoker report silent
	// workers as offline without sending them anything.
	Monitor heartbeat.Monitor

	// SkipDead checks Monitor before each request.
	SkipDead bool

	// LivenessTimeout is how recent a heartbeat must be.
	// Default: heartbeat.DefaultMonitorConfig().Timeout
	LivenessTimeout time.Duration

	// Timeout for each worker's reply.
	// Default: DefaultTimeout
	Timeout time.Duration

	// FailFast stops the broadcast at the first failing target.
	FailFast bool

	Logger *logging.Logger
	Tracer *telemetry.Tracer
}

// BusInvoker broadcasts routines to worker processes over a message bus.
type BusInvoker struct {
	fanout
	bus        bus.MessageBus
	registry   registry.Registry
	controller *Host
	monitor    heartbeat.Monitor
	skipDead   bool
	liveness   time.Duration
	timeout    time.Duration
}

var _ Invoker = (*BusInvoker)(nil)

// NewBusInvoker creates a BusInvoker.
func NewBusInvoker(cfg BusConfig) (*BusInvoker, error) {
	if cfg.Bus == nil {
		return nil, errors.InvalidInput("bus is required")
	}
	if cfg.Registry == nil {
		return nil, errors.InvalidInput("registry is required")
	}
	if cfg.Controller == nil {
		cfg.Controller = NewHost("controller")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = heartbeat.DefaultMonitorConfig().Timeout
	}

	return &BusInvoker{
		fanout:     newFanout(cfg.FailFast, cfg.Logger, cfg.Tracer),
		bus:        cfg.Bus,
		registry:   cfg.Registry,
		controller: cfg.Controller,
		monitor:    cfg.Monitor,
		skipDead:   cfg.SkipDead && cfg.Monitor != nil,
		liveness:   cfg.LivenessTimeout,
		timeout:    cfg.Timeout,
	}, nil
}

// Controller returns the controller's Host.
func (b *BusInvoker) Controller() *Host {
	return b.controller
}

// Targets lists the controller followed by the registered worker set.
func (b *BusInvoker) Targets() ([]Target, error) {
	workers, err := registry.WorkerSet(b.registry)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "list worker set")
	}

	targets := make([]Target, 0, len(workers)+1)
	targets = append(targets, Target{ID: b.controller.ID(), Index: ControllerIndex, Controller: true})
	for _, w := range workers {
		targets = append(targets, Target{ID: w.ID, Index: w.Index})
	}
	return targets, nil
}

// InvokeInEveryWorkerAndController runs routine in the controller, then
// asks every registered worker to run the routine it registered as name.
func (b *BusInvoker) InvokeInEveryWorkerAndController(ctx context.Context, name string, routine Routine) error {
	targets, err := b.Targets()
	if err != nil {
		return err
	}

	return b.run(ctx, name, targets, func(ctx context.Context, t Target) error {
		if t.Controller {
			if routine != nil {
				return runRoutine(ctx, routine)
			}
			return b.controller.Run(ctx, name)
		}
		return b.call(ctx, t.ID, name)
	})
}

// InvokeInWorker asks the worker at index to run the routine registered as
// name.
func (b *BusInvoker) InvokeInWorker(ctx context.Context, index int, name string) error {
	workers, err := registry.WorkerSet(b.registry)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "list worker set")
	}
	for _, w := range workers {
		if w.Index == index {
			return b.call(ctx, w.ID, name)
		}
	}
	return errors.New(errors.ErrCodeNotFound, fmt.Sprintf("no worker with index %d", index))
}

// call sends one Request and waits for its Reply.
func (b *BusInvoker) call(ctx context.Context, workerID, name string) error {
	if b.skipDead && !b.monitor.IsAlive(workerID, b.liveness) {
		return errors.WorkerOffline(workerID, errors.WithRoutine(name),
			errors.WithMetadata("reason", "no recent heartbeat"))
	}

	req := Request{
		ID:      uuid.NewString(),
		Routine: name,
		Trace:   telemetry.Inject(ctx),
	}
	if enabled, ok := AutoCloseFrom(ctx); ok {
		req.AutoClose = &enabled
	}
	data, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encode invoke request")
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	msg, err := b.bus.Request(ctx, Subject(workerID), data)
	if err != nil {
		switch {
		case stderrors.Is(err, bus.ErrNoResponders):
			return errors.WorkerOffline(workerID, errors.WithRoutine(name), errors.WithCause(err))
		case stderrors.Is(err, bus.ErrTimeout):
			return errors.New(errors.ErrCodeTimeout,
				fmt.Sprintf("worker %s did not reply within %s", workerID, b.timeout),
				errors.WithWorkerID(workerID), errors.WithRoutine(name), errors.WithCause(err))
		}
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "send invoke request",
			errors.WithWorkerID(workerID), errors.WithRoutine(name))
	}

	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeCorruption, "decode invoke reply",
			errors.WithWorkerID(workerID), errors.WithRoutine(name))
	}
	if reply.ID != req.ID {
		return errors.New(errors.ErrCodeCorruption,
			fmt.Sprintf("reply id %q does not match request %q", reply.ID, req.ID),
			errors.WithWorkerID(workerID), errors.WithRoutine(name))
	}
	return reply.Err()
}
