// Package core provides the main Recall client and shared memory types.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
//
// Each error marks one failure kind with distinct handling:
//   - ErrValidation is rejected synchronously and never queued.
//   - ErrAdapter is isolated per adapter and never aborts siblings.
//   - ErrTimeout degrades retrieval sources and is retryable for writes.
//   - ErrCapacity triggers eviction rather than failing the call.
//   - ErrCompensation is terminal and surfaced only through logs.
var (
	// ErrValidation indicates malformed write or query input.
	ErrValidation = errors.New("invalid input")

	// ErrAdapter indicates that a specific store call failed.
	ErrAdapter = errors.New("adapter operation failed")

	// ErrTimeout indicates that an external call exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrCapacity indicates that a scope exceeded a size bound.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrCompensation indicates that a rollback itself failed.
	ErrCompensation = errors.New("compensation failed")

	// ErrNotFound indicates that a requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed indicates that the component has been shut down.
	ErrClosed = errors.New("client closed")
)

// RecallError wraps errors with operation context.
//
// It records which operation failed, making error messages more
// informative for debugging.
//
// Example:
//
//	err := &RecallError{Op: "Submit", Err: ErrValidation}
//	// Error() returns: "recall: Submit: invalid input"
type RecallError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "recall: <Op>: <Err>"
func (e *RecallError) Error() string {
	return fmt.Sprintf("recall: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with RecallError.
func (e *RecallError) Unwrap() error {
	return e.Err
}

// NewError creates a new RecallError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewError("Submit", err)
//	}
func NewError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RecallError{Op: op, Err: err}
}
