package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Engine error codes
const (
	ErrValidation            ErrorCode = "VALIDATION"
	ErrDependencyUnavailable ErrorCode = "DEPENDENCY_UNAVAILABLE"
	ErrTimeout               ErrorCode = "TIMEOUT"
	ErrQuotaExceeded         ErrorCode = "QUOTA_EXCEEDED"
	ErrNotFound              ErrorCode = "NOT_FOUND"
	ErrInternal              ErrorCode = "INTERNAL"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Backend   string    `json:"backend,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithBackend tags the error with the backend it originated from.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// WithRetryable marks whether the operation may be retried.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// CodeOf extracts the ErrorCode from an error chain.
// Errors that are not *types.Error map to ErrInternal; nil maps to "".
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}

// IsRetryable reports whether any error in the chain is marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsTimeout reports whether the error chain carries a timeout code.
func IsTimeout(err error) bool {
	return CodeOf(err) == ErrTimeout
}

// Validation builds a VALIDATION error.
func Validation(format string, args ...any) *Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...))
}

// DependencyUnavailable builds a DEPENDENCY_UNAVAILABLE error for a backend.
func DependencyUnavailable(backend string, cause error) *Error {
	return NewError(ErrDependencyUnavailable, fmt.Sprintf("%s backend unavailable", backend)).
		WithBackend(backend).
		WithRetryable(true).
		WithCause(cause)
}

// Timeout builds a TIMEOUT error for a backend call.
func Timeout(backend string, cause error) *Error {
	return NewError(ErrTimeout, fmt.Sprintf("%s call timed out", backend)).
		WithBackend(backend).
		WithRetryable(true).
		WithCause(cause)
}
