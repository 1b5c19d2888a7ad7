package teardown

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"sync/atomic"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vinayprograms/dunitkit/errors"
	"github.com/vinayprograms/dunitkit/invoke"
	"github.com/vinayprograms/dunitkit/logging"
	"github.com/vinayprograms/dunitkit/telemetry"
)

// server exposes only Stop.
type server struct {
	stops atomic.Int32
}

func (s *server) Stop() { s.stops.Add(1) }

// conn implements io.Closer and also has every named method.
type conn struct {
	closes, disconnects, stops atomic.Int32
	err                        error
}

func (c *conn) Close() error { c.closes.Add(1); return c.err }
func (c *conn) Disconnect() { c.disconnects.Add(1) }
func (c *conn) Stop() { c.stops.Add(1) }

// client has Disconnect and Stop but no Close.
type client struct {
	disconnects, stops atomic.Int32
}

func (c *client) Disconnect() { c.disconnects.Add(1) }
func (c *client) Stop() { c.stops.Add(1) }

// broken fails to stop.
type broken struct{}

func (broken) Stop() error { return stderrors.New("port still bound") }

func replicate[V any](t *testing.T, vms int) (*Rule[V], []*Rule[V]) {
	t.Helper()
	l := invoke.NewLocal(invoke.LocalConfig{VMCount: vms})
	controller, workers, err := Replicate[V](l, Config{})
	if err != nil {
		t.Fatalf("Replicate error: %v", err)
	}
	return controller, workers
}

func TestNew_RequiresHost(t *testing.T) {
	if _, err := New[int](Config{}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("New without host = %v, want INVALID_INPUT", err)
	}
}

func TestNew_RegistersRoutine(t *testing.T) {
	h := invoke.NewHost("vm-0")
	r, err := New[int](Config{Host: h})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if r.Name() != DefaultName {
		t.Errorf("Name() = %q, want %q", r.Name(), DefaultName)
	}
	if names := h.Names(); len(names) != 1 || names[0] != DefaultName {
		t.Errorf("host routines = %v", names)
	}

	r.Close()
	if len(h.Names()) != 0 {
		t.Error("Close should unregister the routine")
	}
}

func TestRule_Chaining(t *testing.T) {
	r, _ := New[string](Config{Host: invoke.NewHost("controller")})

	got, ok := r.Set("a").AutoClose(false).Set("b").Get()
	if !ok || got != "b" {
		t.Errorf("Get() = %q, %v, want b, true", got, ok)
	}
	if r.AutoCloseEnabled() {
		t.Error("AutoCloseEnabled() should be false")
	}
	if r.Before(context.Background()) != nil {
		t.Error("Before should be a no-op")
	}
}

func TestAfter_EveryProcessEndsEmpty(t *testing.T) {
	controller, workers := replicate[*server](t, 3)

	servers := make([]*server, 0, 4)
	s := &server{}
	controller.Set(s)
	servers = append(servers, s)
	for _, w := range workers {
		s := &server{}
		w.Set(s)
		servers = append(servers, s)
	}

	if err := controller.After(context.Background()); err != nil {
		t.Fatalf("After error: %v", err)
	}

	if _, ok := controller.Get(); ok {
		t.Error("controller slot should be empty")
	}
	for i, w := range workers {
		if _, ok := w.Get(); ok {
			t.Errorf("worker %d slot should be empty", i)
		}
	}
	for i, s := range servers {
		if got := s.stops.Load(); got != 1 {
			t.Errorf("server %d stopped %d times, want 1", i, got)
		}
	}
}

func TestAfter_NativeCloserReleasedOnce(t *testing.T) {
	controller, workers := replicate[*conn](t, 1)

	c := &conn{}
	workers[0].Set(c)

	if err := controller.After(context.Background()); err != nil {
		t.Fatalf("After error: %v", err)
	}
	if c.closes.Load() != 1 || c.disconnects.Load() != 0 || c.stops.Load() != 0 {
		t.Errorf("close=%d disconnect=%d stop=%d, want 1/0/0",
			c.closes.Load(), c.disconnects.Load(), c.stops.Load())
	}
}

func TestAfter_FirstNamedMatchOnly(t *testing.T) {
	controller, _ := replicate[*client](t, 1)

	c := &client{}
	controller.Set(c)

	if err := controller.After(context.Background()); err != nil {
		t.Fatalf("After error: %v", err)
	}
	if c.disconnects.Load() != 1 || c.stops.Load() != 0 {
		t.Errorf("disconnect=%d stop=%d, want 1/0", c.disconnects.Load(), c.stops.Load())
	}
}

func TestAfter_AutoCloseDisabled(t *testing.T) {
	controller, workers := replicate[*server](t, 2)
	controller.AutoClose(false)

	servers := []*server{{}, {}, {}}
	controller.Set(servers[0])
	workers[0].Set(servers[1])
	workers[1].Set(servers[2])

	if err := controller.After(context.Background()); err != nil {
		t.Fatalf("After error: %v", err)
	}
	for i, w := range workers {
		if _, ok := w.Get(); ok {
			t.Errorf("worker %d slot should be cleared even with auto-close off", i)
		}
	}
	for i, s := range servers {
		if s.stops.Load() != 0 {
			t.Errorf("server %d stopped %d times; the controller disabled auto-close", i, s.stops.Load())
		}
	}
}

func TestAfter_ControllerPolicyWins(t *testing.T) {
	controller, workers := replicate[*server](t, 2)

	s := &server{}
	workers[1].Set(s).AutoClose(false)

	if err := controller.After(context.Background()); err != nil {
		t.Fatalf("After error: %v", err)
	}
	if s.stops.Load() != 1 {
		t.Errorf("stops = %d, want 1: the controller's auto-close applies", s.stops.Load())
	}
}

func TestTeardown_LocalPolicyOutsideBroadcast(t *testing.T) {
	_, workers := replicate[*server](t, 1)

	s := &server{}
	workers[0].Set(s).AutoClose(false)

	host := workers[0].host
	if err := host.RunAll(context.Background()); err != nil {
		t.Fatalf("RunAll error: %v", err)
	}
	if s.stops.Load() != 0 {
		t.Errorf("stops = %d, want 0 with the worker's own auto-close off", s.stops.Load())
	}
	if _, ok := workers[0].Get(); ok {
		t.Error("slot should be cleared")
	}
}

func TestAfter_Idempotent(t *testing.T) {
	controller, workers := replicate[*server](t, 2)

	s := &server{}
	workers[0].Set(s)

	for i := 0; i < 2; i++ {
		if err := controller.After(context.Background()); err != nil {
			t.Fatalf("After #%d error: %v", i+1, err)
		}
	}
	if s.stops.Load() != 1 {
		t.Errorf("stopped %d times, want 1", s.stops.Load())
	}
}

func TestAfter_NeverSet(t *testing.T) {
	controller, _ := replicate[*server](t, 2)
	if err := controller.After(context.Background()); err != nil {
		t.Errorf("After on empty slots = %v, want nil", err)
	}
}

func TestAfter_NilValue(t *testing.T) {
	controller, workers := replicate[*server](t, 1)
	workers[0].Set(nil)

	if err := controller.After(context.Background()); err != nil {
		t.Errorf("After with nil value = %v, want nil", err)
	}
}

func TestAfter_ReleaseFailureStillClears(t *testing.T) {
	controller, workers := replicate[broken](t, 2)
	workers[1].Set(broken{})

	err := controller.After(context.Background())
	if err == nil {
		t.Fatal("expected release failure")
	}
	if !errors.Is(err, errors.ErrCodeReleaseFailed) {
		t.Errorf("err = %v, want RELEASE_FAILED", err)
	}
	if got := errors.WorkerOf(err); got != "vm-1" {
		t.Errorf("WorkerOf = %q, want vm-1", got)
	}
	if got := errors.GetMethod(err); got != "Stop" {
		t.Errorf("GetMethod = %q, want Stop", got)
	}
	if _, ok := workers[1].Get(); ok {
		t.Error("slot should be cleared despite the failure")
	}

	if err := controller.After(context.Background()); err != nil {
		t.Errorf("second After = %v, want nil", err)
	}
}

func TestAfter_CollectsEveryWorkerFailure(t *testing.T) {
	controller, workers := replicate[*conn](t, 3)

	boom := stderrors.New("refused")
	healthy := &conn{}
	workers[0].Set(&conn{err: boom})
	workers[1].Set(healthy)
	workers[2].Set(&conn{err: boom})

	err := controller.After(context.Background())
	if failures(err) != 2 {
		t.Errorf("failures = %d, want 2: %v", failures(err), err)
	}
	if healthy.closes.Load() != 1 {
		t.Error("healthy worker should still be released")
	}
	if !stderrors.Is(err, boom) {
		t.Errorf("err = %v, should wrap the release error", err)
	}
}

func TestAfter_WithoutInvoker(t *testing.T) {
	r, _ := New[int](Config{Host: invoke.NewHost("vm-0")})
	if err := r.After(context.Background()); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("After without invoker = %v, want INVALID_INPUT", err)
	}
}

func TestAfter_LogsAndTraces(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logging.LevelDebug)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	l := invoke.NewLocal(invoke.LocalConfig{VMCount: 1})
	controller, workers, err := Replicate[*server](l, Config{
		Name:   "db",
		Logger: logger,
		Tracer: telemetry.NewTracerFromProvider(tp, "test"),
	})
	if err != nil {
		t.Fatalf("Replicate error: %v", err)
	}
	workers[0].Set(&server{})

	if err := controller.After(context.Background()); err != nil {
		t.Fatalf("After error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"teardown_start", "teardown_complete", "release", "capability=named:Stop", "worker=vm-0"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}

	var found bool
	for _, s := range rec.Ended() {
		if s.Name() == "teardown.db" {
			found = true
		}
	}
	if !found {
		t.Error("missing teardown.db span")
	}
}

// fakeTB captures Cleanup and Errorf.
type fakeTB struct {
	testing.TB
	cleanups []func()
	errors   []string
}

func (f *fakeTB) Helper() {}
func (f *fakeTB) Cleanup(fn func()) { f.cleanups = append(f.cleanups, fn) }
func (f *fakeTB) Errorf(format string, args ...any) {
	f.errors = append(f.errors, format)
}

func (f *fakeTB) finish() {
	for i := len(f.cleanups) - 1; i >= 0; i-- {
		f.cleanups[i]()
	}
}

func TestApply_RunsAfterOnCleanup(t *testing.T) {
	controller, workers := replicate[*server](t, 1)
	s := &server{}
	workers[0].Set(s)

	tb := &fakeTB{TB: t}
	controller.Apply(tb)
	if s.stops.Load() != 0 {
		t.Fatal("Apply must not tear down before cleanup")
	}

	tb.finish()
	if s.stops.Load() != 1 {
		t.Error("cleanup should tear the worker down")
	}
	if len(tb.errors) != 0 {
		t.Errorf("unexpected errors: %v", tb.errors)
	}
}

func TestApply_ReportsFailure(t *testing.T) {
	controller, workers := replicate[broken](t, 1)
	workers[0].Set(broken{})

	tb := &fakeTB{TB: t}
	controller.Apply(tb)
	tb.finish()

	if len(tb.errors) != 1 {
		t.Errorf("Errorf calls = %d, want 1", len(tb.errors))
	}
}

func TestApply_RealTest(t *testing.T) {
	controller, workers := replicate[*server](t, 2)
	s := &server{}

	t.Run("body", func(t *testing.T) {
		controller.Apply(t)
		workers[1].Set(s)
	})

	if s.stops.Load() != 1 {
		t.Errorf("subtest cleanup should stop the server once, got %d", s.stops.Load())
	}
}
