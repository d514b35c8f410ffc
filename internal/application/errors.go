package application

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the acting principal is neither
	// the schedule owner nor an administrator.
	ErrPermissionDenied = errors.New("application: permission denied")
	// ErrNotFound is returned when the requested schedule or zone does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrConflict is returned for invalid lifecycle transitions, stale
	// optimistic writes and duplicate claims. Callers re-read and retry.
	ErrConflict = errors.New("application: conflict")
)

// ValidationError captures field level validation issues that callers can
// surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// InvalidTransitionError reports a lifecycle transition the state machine
// refuses. It matches ErrConflict under errors.Is so callers can treat all
// conflicts uniformly.
type InvalidTransitionError struct {
	From Status
	To   Status
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("application: invalid transition %s -> %s", e.From, e.To)
}

// Is reports ErrConflict equivalence.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrConflict
}

// ExecutionError reports a failed action execution. Scheduled firings record
// it on the schedule; manual execute-now surfaces it to the caller as well.
type ExecutionError struct {
	ScheduleID string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("application: execution failed for %s: %v", e.ScheduleID, e.Err)
	}
	return fmt.Sprintf("application: execution failed for %s: %s", e.ScheduleID, e.Message)
}

// Unwrap exposes the underlying executor error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}
