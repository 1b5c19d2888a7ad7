package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/dunitkit/bus"
	"github.com/vinayprograms/dunitkit/errors"
	"github.com/vinayprograms/dunitkit/logging"
	"github.com/vinayprograms/dunitkit/telemetry"
)

// AgentConfig configures an Agent.
type AgentConfig struct {
	// Bus to receive requests on. Required.
	Bus bus.MessageBus

	// Host holds this worker's routines. Its ID is the worker ID. Required.
	Host *Host

	Logger *logging.Logger
	Tracer *telemetry.Tracer
}

// Agent serves invoke requests for one worker process. Requests are handled
// one at a time in arrival order.
type Agent struct {
	bus    bus.MessageBus
	host   *Host
	logger *logging.Logger
	tracer *telemetry.Tracer

	running atomic.Bool
	sub     bus.Subscription
	done    chan struct{}
}

// NewAgent creates an Agent. Call Start to begin serving.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Bus == nil {
		return nil, errors.InvalidInput("bus is required")
	}
	if cfg.Host == nil {
		return nil, errors.InvalidInput("host is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}

	return &Agent{
		bus:    cfg.Bus,
		host:   cfg.Host,
		logger: cfg.Logger.WithComponent("agent"),
		tracer: cfg.Tracer,
	}, nil
}

// Host returns the routine table this Agent serves.
func (a *Agent) Host() *Host {
	return a.host
}

// Start subscribes to this worker's request subject. Routines run with ctx
// as their parent context.
func (a *Agent) Start(ctx context.Context) error {
	if a.running.Swap(true) {
		return errors.New(errors.ErrCodeInvalidInput, "agent already started")
	}

	sub, err := a.bus.Subscribe(Subject(a.host.ID()))
	if err != nil {
		a.running.Store(false)
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "subscribe to invoke subject")
	}
	a.sub = sub
	a.done = make(chan struct{})

	go a.serve(ctx)
	return nil
}

func (a *Agent) serve(ctx context.Context) {
	defer close(a.done)
	for msg := range a.sub.Messages() {
		a.handle(ctx, msg)
	}
}

func (a *Agent) handle(ctx context.Context, msg *bus.Message) {
	if msg.Reply == "" {
		a.logger.Warn("invoke request without reply subject", map[string]any{"subject": msg.Subject})
		return
	}

	reply := Reply{WorkerID: a.host.ID()}

	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		reply.Error = errors.WrapWithCode(err, errors.ErrCodeCorruption, "decode invoke request",
			errors.WithWorkerID(a.host.ID()))
		a.respond(msg.Reply, reply)
		return
	}
	reply.ID = req.ID

	ctx = telemetry.Extract(ctx, req.Trace)
	if req.AutoClose != nil {
		ctx = WithAutoClose(ctx, *req.AutoClose)
	}
	ctx, span := a.tracer.StartServeSpan(ctx, req.Routine, a.host.ID())
	start := time.Now()

	err := a.host.Run(ctx, req.Routine)

	a.tracer.EndInvokeSpan(span, telemetry.InvokeSpanOptions{WorkerID: a.host.ID()}, err)
	a.logger.InvocationResult(a.host.ID(), req.Routine, time.Since(start), err)

	if err != nil {
		reply.Error = toWire(err, a.host.ID(), req.Routine)
	}
	a.respond(msg.Reply, reply)
}

func (a *Agent) respond(subject string, reply Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		a.logger.Error("encode invoke reply", map[string]any{"error": err.Error()})
		return
	}
	if err := a.bus.Publish(subject, data); err != nil {
		a.logger.Error("publish invoke reply", map[string]any{"error": err.Error(), "subject": subject})
	}
}

// toWire keeps a structured error as it is and wraps anything else, so the
// controller always sees a code.
func toWire(err error, workerID, routine string) *errors.Error {
	if e, ok := err.(*errors.Error); ok {
		return e
	}
	return errors.Wrap(err, fmt.Sprintf("%s failed", routine),
		errors.WithWorkerID(workerID), errors.WithRoutine(routine))
}

// Stop unsubscribes and waits for the request in flight to finish.
func (a *Agent) Stop() error {
	if !a.running.Swap(false) {
		return nil
	}
	err := a.sub.Unsubscribe()
	<-a.done
	return err
}

// OnShutdown stops serving; it lets an Agent join a shutdown phase.
func (a *Agent) OnShutdown(context.Context) error {
	return a.Stop()
}
