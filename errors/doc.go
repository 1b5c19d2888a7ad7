// Package errors provides the structured error taxonomy used during
// distributed teardown.
//
// # Error Categories
//
//   - Transient: the worker or bus may answer on a later attempt
//   - Permanent: the routine or release operation itself failed
//   - Internal: reflection, panics, or undecodable wire data
//
// Probing a value and finding no release operation is not an error and has
// no code.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeReleaseFailed, "close *server.Server",
//	    errors.WithCause(cause), errors.WithMethod("Close"))
//
//	if errors.Is(err, errors.ErrCodeReleaseFailed) {
//	    // the slot was already cleared; report and move on
//	}
//
// # JSON Serialization
//
// Errors marshal to JSON so a worker can return them to the controller with
// code, category and metadata intact:
//
//	data, _ := json.Marshal(err)
//	var remote errors.Error
//	_ = json.Unmarshal(data, &remote)
package errors
