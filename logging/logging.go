// Package logging provides leveled, line-oriented console output for the
// controller and worker processes.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string to a Level, falling back to INFO.
func ParseLevel(s string) Level {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[l]; ok {
		return l
	}
	return LevelInfo
}

// Logger writes `LEVEL TIMESTAMP [component] message key=value ...` lines.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	workerID  string
}

// New creates a Logger writing to stdout at INFO.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	l := New()
	l.output = io.Discard
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	c := *l
	c.component = component
	return &c
}

// WithWorker returns a new logger tagging every line with worker=id.
func (l *Logger) WithWorker(id string) *Logger {
	c := *l
	c.workerID = id
	return &c
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as key=value pairs in key order.
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func (l *Logger) log(level Level, msg string, fields ...map[string]any) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(map[string]any)
	if len(fields) > 0 {
		for k, v := range fields[0] {
			merged[k] = v
		}
	}
	if l.workerID != "" {
		merged["worker"] = l.workerID
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Teardown events ---

// TeardownStart logs the controller requesting a broadcast teardown.
func (l *Logger) TeardownStart(routine string) {
	l.Info("teardown_start", map[string]any{
		"routine": routine,
	})
}

// TeardownComplete logs the end of a broadcast teardown.
func (l *Logger) TeardownComplete(routine string, duration time.Duration, err error) {
	fields := map[string]any{
		"routine":  routine,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("teardown_failed", fields)
		return
	}
	l.Info("teardown_complete", fields)
}

// ReleaseInvoked logs the release operation picked for a value.
func (l *Logger) ReleaseInvoked(valueType, capability string, err error) {
	fields := map[string]any{
		"type":       valueType,
		"capability": capability,
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("release_failed", fields)
		return
	}
	l.Debug("release", fields)
}

// InvocationResult logs one routine run on one target.
func (l *Logger) InvocationResult(target, routine string, duration time.Duration, err error) {
	fields := map[string]any{
		"target":   target,
		"routine":  routine,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("invocation_failed", fields)
		return
	}
	l.Debug("invocation", fields)
}

// WorkerJoined logs a worker joining the worker set.
func (l *Logger) WorkerJoined(id string, index int) {
	l.Info("worker_joined", map[string]any{
		"id":    id,
		"index": index,
	})
}

// WorkerLost logs a worker that stopped sending heartbeats.
func (l *Logger) WorkerLost(id string) {
	l.Warn("worker_lost", map[string]any{
		"id": id,
	})
}
