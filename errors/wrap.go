package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already a structured Error, the wrapper keeps its code and category.
// Context errors map to TIMEOUT and CANCELED; anything else becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var tdErr *Error
	if errors.As(err, &tdErr) {
		wrapped := &Error{
			code:      tdErr.code,
			category:  tdErr.category,
			message:   message,
			cause:     err,
			metadata:  tdErr.Metadata(),
			timestamp: tdErr.timestamp,
			workerID:  tdErr.workerID,
			routine:   tdErr.routine,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...any) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsTeardownError extracts a structured error from an error chain.
// Returns nil if none is found.
func AsTeardownError(err error) TeardownError {
	var tdErr *Error
	if errors.As(err, &tdErr) {
		return tdErr
	}
	return nil
}

// Is reports whether any structured error in the chain carries code.
// Unlike errors.As it keeps looking past the first match, so a wrapper with
// a different code does not hide the original one. Joined errors are
// searched branch by branch.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.code == code {
			return true
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if Is(inner, code) {
					return true
				}
			}
			return false
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	var tdErr *Error
	if errors.As(err, &tdErr) {
		return tdErr.Retryable()
	}
	return false
}

// Code extracts the error code from an error, if available.
// Returns empty string if err is not a structured Error.
func Code(err error) ErrorCode {
	var tdErr *Error
	if errors.As(err, &tdErr) {
		return tdErr.code
	}
	return ""
}

// WorkerOf returns the worker ID attached to the outermost structured error.
func WorkerOf(err error) string {
	var tdErr *Error
	if errors.As(err, &tdErr) {
		return tdErr.workerID
	}
	return ""
}

// GetMethod returns the release method recorded anywhere in the chain, if
// any. Joined errors are searched branch by branch.
func GetMethod(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok && e.metadata["method"] != "" {
			return e.metadata["method"]
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if m := GetMethod(inner); m != "" {
					return m
				}
			}
			return ""
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// Join combines multiple errors into a single error.
// If all errors are nil, returns nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered any) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
