package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	// Debug should be filtered
	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	logger.Info("info message")
	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Error("log should contain INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":  LevelDebug,
		" WARN ": LevelWarn,
		"error":  LevelError,
		"":       LevelInfo,
		"chatty": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("teardown")
	logger.SetOutput(&buf)

	logger.Info("hello world", map[string]any{"b": 2, "a": 1})

	output := buf.String()
	// Format: LEVEL TIMESTAMP [component] message key=value
	if !strings.HasPrefix(output, "INFO ") {
		t.Errorf("expected line to start with 'INFO ', got: %s", output)
	}
	if !strings.Contains(output, "[teardown]") {
		t.Errorf("expected component [teardown], got: %s", output)
	}
	if !strings.Contains(output, "hello world a=1 b=2") {
		t.Errorf("expected sorted fields, got: %s", output)
	}
}

func TestLogger_WithWorker(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.WithWorker("vm-1").Info("ready")
	if !strings.Contains(buf.String(), "worker=vm-1") {
		t.Errorf("expected worker field, got: %s", buf.String())
	}
}

func TestLogger_TeardownEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)

	logger.TeardownStart("dunit.reference")
	logger.ReleaseInvoked("*server.Server", "named:Stop", nil)
	logger.TeardownComplete("dunit.reference", 5*time.Millisecond, nil)

	output := buf.String()
	for _, want := range []string{"teardown_start", "release", "capability=named:Stop", "teardown_complete", "duration="} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in log, got: %s", want, output)
		}
	}
}

func TestLogger_FailuresAreErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.TeardownComplete("dunit.reference", time.Millisecond, errors.New("boom"))
	output := buf.String()
	if !strings.HasPrefix(output, "ERROR") {
		t.Errorf("failed teardown should log at ERROR, got: %s", output)
	}
	if !strings.Contains(output, "error=boom") {
		t.Errorf("expected error field, got: %s", output)
	}
}

func TestNop(t *testing.T) {
	// Must not panic or write anywhere visible.
	Nop().Error("ignored")
}
