package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Common sentinel errors for quick checks
var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when authentication fails or is missing.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput is returned when request input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("operation timeout")

	// ErrServiceUnavailable is returned when a required service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInternal is returned when an internal error occurs.
	ErrInternal = errors.New("internal error")
)

// Error is the base interface for all custom errors in the system.
// It extends the standard error interface with additional context.
type Error interface {
	error
	// Code returns the error code
	Code() string
	// Message returns the human-readable error message
	Message() string
	// Unwrap returns the underlying cause
	Unwrap() error
}

// BaseError provides a foundation for all typed errors.
type BaseError struct {
	code    string
	message string
	cause   error
	stack   []uintptr
}

// Error implements the error interface.
func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *BaseError) Code() string {
	return e.code
}

// Message returns the error message.
func (e *BaseError) Message() string {
	return e.message
}

// Unwrap returns the underlying cause.
func (e *BaseError) Unwrap() error {
	return e.cause
}

// captureStack captures the current stack trace.
func captureStack(skip int) []uintptr {
	const maxDepth = 32
	stack := make([]uintptr, maxDepth)
	n := runtime.Callers(skip+2, stack)
	return stack[:n]
}

// StackTrace returns a formatted stack trace string.
func (e *BaseError) StackTrace() string {
	if len(e.stack) == 0 {
		return ""
	}

	var buf strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&buf, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return buf.String()
}

// AttachError is reported when a feed could not be attached: the target factory or
// the underlying subscribe call failed before any push arrived.
type AttachError struct {
	*BaseError
	Feed string
}

// NewAttachError creates a new attach error for the feed identified by feed.
func NewAttachError(feed string, cause error) *AttachError {
	return &AttachError{
		BaseError: &BaseError{
			code:    CodeAttach,
			message: fmt.Sprintf("attach feed %s", feed),
			cause:   cause,
			stack:   captureStack(1),
		},
		Feed: feed,
	}
}

// PushError is reported when the push source fails after previously succeeding.
type PushError struct {
	*BaseError
	Feed string
}

// NewPushError creates a new push error for the feed identified by feed.
func NewPushError(feed string, cause error) *PushError {
	return &PushError{
		BaseError: &BaseError{
			code:    CodePush,
			message: fmt.Sprintf("push from feed %s", feed),
			cause:   cause,
			stack:   captureStack(1),
		},
		Feed: feed,
	}
}

// MapperError is reported when a single consumer's projection of a snapshot fails.
// It never affects the shared feed or other consumers.
type MapperError struct {
	*BaseError
	Feed     string
	Consumer string
}

// NewMapperError creates a new mapper error.
func NewMapperError(feed, consumer string, cause error) *MapperError {
	return &MapperError{
		BaseError: &BaseError{
			code:    CodeMapper,
			message: fmt.Sprintf("map snapshot of feed %s for %s", feed, consumer),
			cause:   cause,
			stack:   captureStack(1),
		},
		Feed:     feed,
		Consumer: consumer,
	}
}

// ValidationError represents an input validation error.
type ValidationError struct {
	*BaseError
	Field string
	Value interface{}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		BaseError: &BaseError{
			code:    CodeValidation,
			message: message,
			stack:   captureStack(1),
		},
		Field: field,
		Value: value,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.message)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	*BaseError
	Resource string
	ID       string
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{
		BaseError: &BaseError{
			code:    CodeNotFound,
			message: fmt.Sprintf("%s not found", resource),
			stack:   captureStack(1),
		},
		Resource: resource,
		ID:       id,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// UnauthorizedError represents an authentication error.
type UnauthorizedError struct {
	*BaseError
}

// NewUnauthorizedError creates a new unauthorized error.
func NewUnauthorizedError(message string) *UnauthorizedError {
	if message == "" {
		message = "authentication required"
	}
	return &UnauthorizedError{
		BaseError: &BaseError{
			code:    CodeUnauthorized,
			message: message,
			stack:   captureStack(1),
		},
	}
}

// Wrap wraps an error with additional context.
// If the error is already one of our custom types, it preserves the code
// and adds the cause chain. Otherwise, the result carries CodeInternal.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	code := CodeInternal
	if e, ok := err.(Error); ok {
		code = e.Code()
	}

	return &BaseError{
		code:    code,
		message: message,
		cause:   err,
		stack:   captureStack(1),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
