package invoke

import (
	"context"
	"fmt"

	"github.com/vinayprograms/dunitkit/errors"
	"github.com/vinayprograms/dunitkit/logging"
	"github.com/vinayprograms/dunitkit/telemetry"
)

// LocalConfig configures a Local invoker.
type LocalConfig struct {
	// VMCount is the number of simulated workers.
	// Default: DefaultVMCount
	VMCount int

	// FailFast stops the broadcast at the first failing target.
	// Default: false (every target runs; failures are joined)
	FailFast bool

	Logger *logging.Logger
	Tracer *telemetry.Tracer
}

// Local simulates a controller and its workers inside one process. Every
// simulated worker has its own Host, so state registered there stays
// separate from the controller's.
type Local struct {
	fanout
	controller *Host
	workers    []*Host
}

var _ Invoker = (*Local)(nil)

// NewLocal creates the controller Host and VMCount worker Hosts named
// "controller", "vm-0", "vm-1", ...
func NewLocal(cfg LocalConfig) *Local {
	if cfg.VMCount <= 0 {
		cfg.VMCount = DefaultVMCount
	}

	workers := make([]*Host, cfg.VMCount)
	for i := range workers {
		workers[i] = NewHost(fmt.Sprintf("vm-%d", i))
	}

	return &Local{
		fanout:     newFanout(cfg.FailFast, cfg.Logger, cfg.Tracer),
		controller: NewHost("controller"),
		workers:    workers,
	}
}

// Controller returns the controller's Host.
func (l *Local) Controller() *Host {
	return l.controller
}

// Worker returns the Host of worker index.
func (l *Local) Worker(index int) *Host {
	return l.workers[index]
}

// Workers returns every worker Host in index order.
func (l *Local) Workers() []*Host {
	out := make([]*Host, len(l.workers))
	copy(out, l.workers)
	return out
}

// VMCount returns the number of simulated workers.
func (l *Local) VMCount() int {
	return len(l.workers)
}

// Targets lists the controller followed by every worker.
func (l *Local) Targets() []Target {
	targets := []Target{{ID: l.controller.ID(), Index: ControllerIndex, Controller: true}}
	for i, w := range l.workers {
		targets = append(targets, Target{ID: w.ID(), Index: i})
	}
	return targets
}

// InvokeInEveryWorkerAndController runs the controller routine, then the
// routine registered as name in every worker Host in index order.
func (l *Local) InvokeInEveryWorkerAndController(ctx context.Context, name string, routine Routine) error {
	return l.run(ctx, name, l.Targets(), func(ctx context.Context, t Target) error {
		if t.Controller {
			if routine != nil {
				return runRoutine(ctx, routine)
			}
			return l.controller.Run(ctx, name)
		}
		return l.workers[t.Index].Run(ctx, name)
	})
}

// InvokeInWorker runs the routine registered as name in one worker Host.
func (l *Local) InvokeInWorker(ctx context.Context, index int, name string) error {
	if index < 0 || index >= len(l.workers) {
		return errors.InvalidInput(fmt.Sprintf("worker index %d out of range [0,%d)", index, len(l.workers)))
	}
	return l.workers[index].Run(ctx, name)
}
