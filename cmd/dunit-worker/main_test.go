package main

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/vinayprograms/dunitkit/logging"
	"github.com/vinayprograms/dunitkit/shutdown"
)

func TestUnwind_RunsRegisteredCleanup(t *testing.T) {
	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())

	var mu sync.Mutex
	var ran []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			return nil
		}
	}
	coord.RegisterFuncWithPhase("bus", record("bus"), shutdown.PhaseTransport)
	coord.RegisterFuncWithPhase("registry", record("registry"), phaseRegistryClose)
	coord.RegisterFuncWithPhase("teardown", record("teardown"), shutdown.PhaseTeardown)

	cause := stderrors.New("agent start failed")
	if err := unwind(coord, logging.Nop(), cause); err != cause {
		t.Errorf("unwind() = %v, want the start error", err)
	}

	want := []string{"teardown", "registry", "bus"}
	if !reflect.DeepEqual(ran, want) {
		t.Errorf("cleanup order = %v, want %v", ran, want)
	}
	select {
	case <-coord.Done():
	default:
		t.Error("coordinator should be done after unwind")
	}
}

func TestUnwind_KeepsStartErrorWhenCleanupFails(t *testing.T) {
	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
	coord.RegisterFuncWithPhase("bus", func(context.Context) error {
		return stderrors.New("already closed")
	}, shutdown.PhaseTransport)

	cause := stderrors.New("register failed")
	if err := unwind(coord, logging.Nop(), cause); err != cause {
		t.Errorf("unwind() = %v, want the start error", err)
	}
}

func TestRun_UnreachableBus(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	path := filepath.Join(t.TempDir(), "dunit.toml")
	config := "[worker]\nid = \"vm-0\"\n\n[bus]\nurl = \"nats://127.0.0.1:1\"\nconnect_timeout = \"200ms\"\n"
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := run(path); err == nil {
		t.Error("run() should fail when the bus is unreachable")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("loadConfig() should fail for a missing file")
	}
}
