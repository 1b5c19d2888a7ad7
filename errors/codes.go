package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: a worker that missed heartbeats, an invocation timeout.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: a release operation that returned an error, an unknown routine.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	// Examples: a reflective call that panicked, corrupted wire data.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for teardown and invocation failures.
const (
	// Transient errors
	ErrCodeTimeout       ErrorCode = "TIMEOUT"        // Operation timed out
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"    // Bus or worker temporarily unavailable
	ErrCodeWorkerOffline ErrorCode = "WORKER_OFFLINE" // Worker stopped sending heartbeats

	// Permanent errors
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"         // Worker or entry does not exist
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"     // Malformed or invalid input
	ErrCodeCanceled        ErrorCode = "CANCELED"          // Operation was canceled
	ErrCodeReleaseFailed   ErrorCode = "RELEASE_FAILED"    // Release operation returned an error
	ErrCodeRoutineNotFound ErrorCode = "ROUTINE_NOT_FOUND" // No routine registered under the name
	ErrCodeWorkerFailed    ErrorCode = "WORKER_FAILED"     // Routine failed inside a worker

	// Internal errors
	ErrCodeInternal         ErrorCode = "INTERNAL"          // Unexpected internal error
	ErrCodeInvocationFailed ErrorCode = "INVOCATION_FAILED" // Reflective invocation itself failed
	ErrCodePanic            ErrorCode = "PANIC"             // Recovered from panic
	ErrCodeCorruption       ErrorCode = "CORRUPTION"        // Undecodable wire data
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeWorkerOffline:
		return CategoryTransient

	case ErrCodeNotFound, ErrCodeInvalidInput, ErrCodeCanceled, ErrCodeReleaseFailed,
		ErrCodeRoutineNotFound, ErrCodeWorkerFailed:
		return CategoryPermanent

	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:          "operation timed out",
	ErrCodeUnavailable:      "temporarily unavailable",
	ErrCodeWorkerOffline:    "worker is offline",
	ErrCodeNotFound:         "not found",
	ErrCodeInvalidInput:     "invalid input provided",
	ErrCodeCanceled:         "operation canceled",
	ErrCodeReleaseFailed:    "release operation failed",
	ErrCodeRoutineNotFound:  "routine not registered",
	ErrCodeWorkerFailed:     "routine failed in worker",
	ErrCodeInternal:         "internal error",
	ErrCodeInvocationFailed: "invocation failed",
	ErrCodePanic:            "recovered from panic",
	ErrCodeCorruption:       "corrupted data",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
