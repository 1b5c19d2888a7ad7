// Package registry tracks the worker processes taking part in a distributed
// test.
//
// Workers register themselves when they start and deregister when they
// exit. The controller reads the ordered worker set to decide where a
// teardown broadcast goes.
package registry

import (
	"errors"
	"sort"
	"time"
)

// Common errors.
var (
	ErrNotFound     = errors.New("worker not found")
	ErrClosed       = errors.New("registry closed")
	ErrInvalidID    = errors.New("invalid worker ID")
	ErrInvalidIndex = errors.New("invalid worker index")
)

// Status represents a worker's operational state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusStopping Status = "stopping"
)

// WorkerInfo contains registration information for a worker process.
type WorkerInfo struct {
	// ID uniquely identifies the worker; it is also its bus subject suffix.
	ID string `json:"id"`

	// Index orders workers. The controller uses -1, workers 0..n-1.
	Index int `json:"index"`

	// Controller marks the process running the test driver.
	Controller bool `json:"controller,omitempty"`

	// PID of the worker process, informational.
	PID int `json:"pid,omitempty"`

	// Status is the worker's current operational state.
	Status Status `json:"status"`

	// Metadata contains additional key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`

	// LastSeen is when the worker last updated its registration.
	LastSeen time.Time `json:"last_seen"`
}

// Filter specifies criteria for listing workers.
type Filter struct {
	// Status filters by operational state. Empty means all.
	Status Status

	// ExcludeController drops the controller entry.
	ExcludeController bool
}

// EventType represents the type of registry event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event represents a change in the registry.
type Event struct {
	Type EventType

	// Worker holds the worker information. For removal events it carries
	// the last known state (or just the ID when unknown).
	Worker WorkerInfo
}

// Registry provides worker registration and discovery.
type Registry interface {
	// Register adds or updates a worker.
	Register(info WorkerInfo) error

	// Deregister removes a worker.
	// Returns ErrNotFound if the worker doesn't exist.
	Deregister(id string) error

	// Get retrieves a specific worker by ID.
	Get(id string) (*WorkerInfo, error)

	// List returns all workers matching the optional filter, ordered by Index.
	List(filter *Filter) ([]WorkerInfo, error)

	// Watch returns a channel of registry events, closed with the registry.
	Watch() (<-chan Event, error)

	// Close shuts down the registry client.
	Close() error
}

// WorkerSet returns every non-controller worker ordered by Index.
func WorkerSet(r Registry) ([]WorkerInfo, error) {
	return r.List(&Filter{ExcludeController: true})
}

// ValidateWorkerInfo checks if worker info is valid.
func ValidateWorkerInfo(info WorkerInfo) error {
	if info.ID == "" {
		return ErrInvalidID
	}
	if info.Controller && info.Index != -1 {
		return ErrInvalidIndex
	}
	if !info.Controller && info.Index < 0 {
		return ErrInvalidIndex
	}
	return nil
}

// MatchesFilter checks if a worker matches the filter criteria.
func MatchesFilter(info WorkerInfo, filter *Filter) bool {
	if filter == nil {
		return true
	}
	if filter.Status != "" && info.Status != filter.Status {
		return false
	}
	if filter.ExcludeController && info.Controller {
		return false
	}
	return true
}

// sortWorkers orders by Index, then ID.
func sortWorkers(ws []WorkerInfo) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].Index != ws[j].Index {
			return ws[i].Index < ws[j].Index
		}
		return ws[i].ID < ws[j].ID
	})
}
