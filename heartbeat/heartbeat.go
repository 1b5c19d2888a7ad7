package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vinayprograms/dunitkit/bus"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// SubjectPrefix is the subject prefix for heartbeat messages.
const SubjectPrefix = "heartbeat."

// Heartbeat is a single liveness signal from a worker process.
type Heartbeat struct {
	// WorkerID identifies the sending worker.
	WorkerID string `json:"worker_id"`

	// Index is the worker's position in the worker set.
	Index int `json:"index"`

	// Timestamp when the heartbeat was generated.
	Timestamp time.Time `json:"timestamp"`

	// Status of the worker ("starting", "ready", "stopping").
	Status string `json:"status"`

	// Routines lists the routine names the worker can run when asked.
	Routines []string `json:"routines,omitempty"`

	// Metadata contains additional key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Marshal serializes a heartbeat to JSON.
func (h *Heartbeat) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// Unmarshal deserializes a heartbeat from JSON.
func Unmarshal(data []byte) (*Heartbeat, error) {
	var h Heartbeat
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Subject returns the subject for this heartbeat.
func (h *Heartbeat) Subject() string {
	return SubjectPrefix + h.WorkerID
}

// Sender sends periodic heartbeats.
type Sender interface {
	// Start begins sending heartbeats at the configured interval.
	// Returns ErrAlreadyStarted if already running.
	Start(ctx context.Context) error

	// SetStatus updates the status included in heartbeats.
	SetStatus(status string)

	// SetMetadata updates a metadata field.
	SetMetadata(key, value string)

	// Stop stops sending heartbeats.
	// Returns ErrNotStarted if not running.
	Stop() error
}

// Monitor tracks heartbeats and detects dead workers.
type Monitor interface {
	// IsAlive reports whether a worker sent a heartbeat within timeout.
	IsAlive(workerID string, timeout time.Duration) bool

	// LastHeartbeat returns the last heartbeat from a worker, if any.
	LastHeartbeat(workerID string) *Heartbeat

	// OnDead registers a callback for when a worker is presumed dead.
	OnDead(callback func(workerID string))

	// Stop stops monitoring.
	Stop() error
}

// SenderConfig configures a heartbeat sender.
type SenderConfig struct {
	// Bus is the message bus for publishing heartbeats.
	Bus bus.MessageBus

	// WorkerID is the identity of this worker.
	WorkerID string

	// Index is this worker's position in the worker set.
	Index int

	// Interval between heartbeats.
	// Default: 5 seconds
	Interval time.Duration

	// InitialStatus is the starting status.
	// Default: "starting"
	InitialStatus string

	// Routines, when set, is read before every heartbeat. Pass the worker
	// Host's Names so the controller sees which routines each worker holds.
	Routines func() []string
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Bus == nil {
		return ErrInvalidConfig
	}
	if c.WorkerID == "" {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Interval:      5 * time.Second,
		InitialStatus: "starting",
	}
}

// MonitorConfig configures a heartbeat monitor.
type MonitorConfig struct {
	// Bus is the message bus for subscribing to heartbeats.
	Bus bus.MessageBus

	// Timeout for considering a worker dead.
	// Should be 2-3x the expected heartbeat interval.
	// Default: 15 seconds
	Timeout time.Duration

	// CheckInterval for the dead worker checker.
	// Default: 1 second
	CheckInterval time.Duration
}

// Validate checks the configuration.
func (c *MonitorConfig) Validate() error {
	if c.Bus == nil {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultMonitorConfig returns configuration with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Timeout:       15 * time.Second,
		CheckInterval: 1 * time.Second,
	}
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
