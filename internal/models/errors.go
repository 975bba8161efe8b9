package models

import (
	"errors"
	"fmt"
)

// Sentinels for error classes. Typed errors below match them through errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrRemoteRejected    = errors.New("remote rejected")
)

// ValidationError reports bad input rejected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown or tombstoned id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError reports a duplicate link tuple or a sync conflict.
type ConflictError struct {
	Reason string
	ID     string
}

func (e *ConflictError) Error() string {
	if e.ID == "" {
		return "conflict: " + e.Reason
	}
	return fmt.Sprintf("conflict on %s: %s", e.ID, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// RemoteUnavailableError is a transient remote failure (network, timeout, 5xx, 429).
// Status is 0 when no HTTP response was received.
type RemoteUnavailableError struct {
	Op     string
	Status int
	Err    error
}

func (e *RemoteUnavailableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote unavailable: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("remote unavailable: %s: %v", e.Op, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

func (e *RemoteUnavailableError) Is(target error) bool { return target == ErrRemoteUnavailable }

// RemoteRejectedError is a permanent rejection from the remote service.
type RemoteRejectedError struct {
	Op      string
	Status  int
	Message string
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("remote rejected: %s: status %d: %s", e.Op, e.Status, e.Message)
}

func (e *RemoteRejectedError) Is(target error) bool { return target == ErrRemoteRejected }

// UpstreamStatus extracts the remote HTTP status from err, or 0.
func UpstreamStatus(err error) int {
	var ue *RemoteUnavailableError
	if errors.As(err, &ue) {
		return ue.Status
	}
	var re *RemoteRejectedError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}
