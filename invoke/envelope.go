package invoke

import (
	"github.com/vinayprograms/dunitkit/errors"
)

// SubjectPrefix is the subject prefix a worker's Agent listens under.
const SubjectPrefix = "dunit.invoke."

// Subject returns the request subject of the worker identified by id.
func Subject(workerID string) string {
	return SubjectPrefix + workerID
}

// Request asks a worker to run one registered routine.
type Request struct {
	// ID correlates the reply with the request.
	ID string `json:"id"`

	// Routine is the name the worker registered the routine under.
	Routine string `json:"routine"`

	// Trace carries the W3C trace context of the caller.
	Trace map[string]string `json:"trace,omitempty"`

	// AutoClose carries the controller's release policy. Nil leaves the
	// worker's own policy in force.
	AutoClose *bool `json:"auto_close,omitempty"`
}

// Reply is a worker's answer to a Request.
type Reply struct {
	ID       string        `json:"id"`
	WorkerID string        `json:"worker_id"`
	Error    *errors.Error `json:"error,omitempty"`
}

// Err returns the routine's error, or nil when it succeeded.
func (r *Reply) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}
