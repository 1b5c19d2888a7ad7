// Command dunit-worker runs one process of a distributed test.
//
// Every worker serves teardown requests from the controller on
// dunit.invoke.<id>, announces itself in the worker registry and sends
// heartbeats. The worker holds a scratch file in a teardown rule; the
// controller (worker.index = -1) broadcasts the rule's teardown to every
// registered worker when it exits.
//
// Run: dunit-worker -config dunit.toml
// Stop: Ctrl+C (SIGINT) or kill (SIGTERM)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vinayprograms/dunitkit/bus"
	"github.com/vinayprograms/dunitkit/config"
	"github.com/vinayprograms/dunitkit/heartbeat"
	"github.com/vinayprograms/dunitkit/invoke"
	"github.com/vinayprograms/dunitkit/logging"
	"github.com/vinayprograms/dunitkit/registry"
	"github.com/vinayprograms/dunitkit/shutdown"
	"github.com/vinayprograms/dunitkit/telemetry"
	"github.com/vinayprograms/dunitkit/teardown"
)

func main() {
	configPath := flag.String("config", "", "path to dunit.toml (default: standard locations)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "dunit-worker: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, string, error) {
	if path != "" {
		cfg, err := config.LoadFile(path)
		return cfg, path, err
	}
	return config.Load()
}

// phaseRegistryClose closes the registry client after deregistration and
// before the bus it runs on.
const phaseRegistryClose = shutdown.PhaseDeregister + 5

func run(configPath string) error {
	cfg, source, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Logger()
	if source != "" {
		logger.Info("config loaded", map[string]any{"path": source})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := shutdown.NewCoordinator(shutdown.Config{
		Timeout: cfg.Invoke.Timeout + 10*time.Second,
		Logger:  logger,
	})

	abort := func(err error) error {
		return unwind(coord, logger, err)
	}

	tracer := telemetry.GetTracer()
	if pc := cfg.Provider(); pc.Enabled() {
		provider, err := telemetry.InitProvider(ctx, pc)
		if err != nil {
			return err
		}
		tracer = provider.Tracer()
		coord.RegisterFuncWithPhase("telemetry", provider.Shutdown, shutdown.PhaseTransport)
	}

	nb, err := bus.NewNATSBus(cfg.NATS())
	if err != nil {
		return abort(err)
	}
	coord.RegisterFuncWithPhase("bus", func(context.Context) error {
		return nb.Close()
	}, shutdown.PhaseTransport)

	reg, err := registry.NewNATSRegistry(nb.Conn(), registry.DefaultNATSRegistryConfig())
	if err != nil {
		return abort(err)
	}
	coord.RegisterFuncWithPhase("registry", func(context.Context) error {
		return reg.Close()
	}, phaseRegistryClose)

	host := invoke.NewHost(cfg.Worker.ID)

	var invoker invoke.Invoker
	if cfg.Worker.Controller() {
		invoker, err = controllerInvoker(cfg, nb, reg, host, logger, tracer, coord)
		if err != nil {
			return abort(err)
		}
	}

	rule, err := teardown.New[*os.File](teardown.Config{
		Name:    "dunit.scratch",
		Host:    host,
		Invoker: invoker,
		Logger:  logger,
		Tracer:  tracer,
	})
	if err != nil {
		return abort(err)
	}

	// Until the process is fully up only the local slots are released; the
	// controller broadcasts only once it has joined.
	joined := false
	coord.RegisterFuncWithPhase("teardown", func(ctx context.Context) error {
		if joined && cfg.Worker.Controller() {
			return rule.After(ctx)
		}
		return host.RunAll(ctx)
	}, shutdown.PhaseTeardown)

	scratch, err := os.CreateTemp("", "dunit-"+cfg.Worker.ID+"-*")
	if err != nil {
		return abort(fmt.Errorf("create scratch file: %w", err))
	}
	rule.Set(scratch)
	logger.Info("scratch file held", map[string]any{"path": scratch.Name()})

	agent, err := invoke.NewAgent(invoke.AgentConfig{
		Bus:    nb,
		Host:   host,
		Logger: logger,
		Tracer: tracer,
	})
	if err != nil {
		return abort(err)
	}
	if err := agent.Start(ctx); err != nil {
		return abort(err)
	}
	coord.RegisterWithPhase("agent", agent, shutdown.PhaseStopServing)

	sender, err := heartbeat.NewBusSender(heartbeat.SenderConfig{
		Bus:      nb,
		WorkerID: cfg.Worker.ID,
		Index:    cfg.Worker.Index,
		Interval: cfg.Heartbeat.Interval,
		Routines: host.Names,
	})
	if err != nil {
		return abort(err)
	}
	if err := sender.Start(ctx); err != nil {
		return abort(err)
	}
	coord.RegisterFuncWithPhase("heartbeat", func(context.Context) error {
		sender.SetStatus(string(registry.StatusStopping))
		return sender.Stop()
	}, shutdown.PhaseHeartbeat)

	info := registry.WorkerInfo{
		ID:         cfg.Worker.ID,
		Index:      cfg.Worker.Index,
		Controller: cfg.Worker.Controller(),
		PID:        os.Getpid(),
		Status:     registry.StatusReady,
	}
	if err := reg.Register(info); err != nil {
		return abort(err)
	}
	sender.SetStatus(string(registry.StatusReady))

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	refreshed := make(chan struct{})
	go func() {
		defer close(refreshed)
		refresh(refreshCtx, reg, info, cfg.Heartbeat.Interval, logger)
	}()

	coord.RegisterFuncWithPhase("deregister", func(context.Context) error {
		stopRefresh()
		<-refreshed
		if err := reg.Deregister(info.ID); err != nil && !errors.Is(err, registry.ErrNotFound) {
			return err
		}
		return nil
	}, shutdown.PhaseDeregister)

	joined = true
	logger.WorkerJoined(info.ID, info.Index)

	coord.HandleSignals()
	<-coord.Done()
	cancel()

	return coord.Err()
}

// unwind runs every handler registered with coord so far and returns the
// error that stopped the start.
func unwind(coord *shutdown.Coordinator, logger *logging.Logger, err error) error {
	if serr := coord.ShutdownWithTimeout(0); serr != nil {
		logger.Warn("cleanup after failed start", map[string]any{"error": serr.Error()})
	}
	return err
}

// controllerInvoker wires the bus invoker and its heartbeat monitor.
func controllerInvoker(cfg config.Config, b bus.MessageBus, reg registry.Registry, host *invoke.Host,
	logger *logging.Logger, tracer *telemetry.Tracer, coord *shutdown.Coordinator) (*invoke.BusInvoker, error) {
	monitor, err := heartbeat.NewBusMonitor(heartbeat.MonitorConfig{
		Bus:     b,
		Timeout: cfg.Heartbeat.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := monitor.Start(); err != nil {
		return nil, err
	}
	monitor.OnDead(logger.WorkerLost)
	coord.RegisterFuncWithPhase("monitor", func(context.Context) error {
		return monitor.Stop()
	}, shutdown.PhaseHeartbeat)

	return invoke.NewBusInvoker(invoke.BusConfig{
		Bus:             b,
		Registry:        reg,
		Controller:      host,
		Monitor:         monitor,
		SkipDead:        cfg.Invoke.SkipDead,
		LivenessTimeout: cfg.Heartbeat.Timeout,
		Timeout:         cfg.Invoke.Timeout,
		FailFast:        cfg.Invoke.FailFast,
		Logger:          logger,
		Tracer:          tracer,
	})
}

// refresh re-registers the worker so its entry outlives the bucket TTL.
func refresh(ctx context.Context, reg registry.Registry, info registry.WorkerInfo, every time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reg.Register(info); err != nil && !errors.Is(err, registry.ErrClosed) {
				logger.Warn("registry refresh failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
