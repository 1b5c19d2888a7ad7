package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// TeardownError is implemented by every structured error in dunitkit.
type TeardownError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for retry/handling decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of TeardownError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	timestamp time.Time
	workerID  string // worker the failure happened in, if known
	routine   string // routine being invoked, if applicable
}

var (
	_ TeardownError    = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable reports whether the category allows a retry. Teardown itself
// never retries; this is informational for the caller.
func (e *Error) Retryable() bool {
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// WorkerID returns the worker the error originated in, if set.
func (e *Error) WorkerID() string {
	return e.workerID
}

// Routine returns the routine name, if set.
func (e *Error) Routine() string {
	return e.routine
}

type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	WorkerID  string            `json:"worker_id,omitempty"`
	Routine   string            `json:"routine,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:     e.code,
		Category: e.category,
		Message:  e.message,
		Metadata: e.metadata,
		WorkerID: e.workerID,
		Routine:  e.routine,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler. The cause survives only as
// its message.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.workerID = j.WorkerID
	e.routine = j.Routine
	e.cause = nil
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithMethod records which release operation was invoked.
func WithMethod(name string) Option {
	return WithMetadata("method", name)
}

// WithValueType records the dynamic type of the released value.
func WithValueType(v any) Option {
	return WithMetadata("value_type", fmt.Sprintf("%T", v))
}

// WithWorkerID sets the worker the failure happened in.
func WithWorkerID(id string) Option {
	return func(e *Error) {
		e.workerID = id
	}
}

// WithRoutine sets the routine name.
func WithRoutine(name string) Option {
	return func(e *Error) {
		e.routine = name
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// ReleaseFailed creates the error raised when a release operation fails.
func ReleaseFailed(v any, method string, cause error) *Error {
	return New(ErrCodeReleaseFailed, fmt.Sprintf("release %T via %s", v, method),
		WithCause(cause), WithMethod(method), WithValueType(v))
}

// InvocationFailed creates the error raised when the reflective call itself fails.
func InvocationFailed(v any, method string, cause error) *Error {
	return New(ErrCodeInvocationFailed, fmt.Sprintf("invoke %T.%s", v, method),
		WithCause(cause), WithMethod(method), WithValueType(v))
}

// RoutineNotFound creates the error for an unknown routine name.
func RoutineNotFound(name string, opts ...Option) *Error {
	opts = append([]Option{WithRoutine(name)}, opts...)
	return New(ErrCodeRoutineNotFound, fmt.Sprintf("routine %q not registered", name), opts...)
}

// WorkerOffline creates a worker offline error.
func WorkerOffline(workerID string, opts ...Option) *Error {
	opts = append([]Option{WithWorkerID(workerID)}, opts...)
	return New(ErrCodeWorkerOffline, fmt.Sprintf("worker %s is offline", workerID), opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
