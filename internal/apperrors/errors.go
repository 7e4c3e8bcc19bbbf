// Package apperrors provides structured pipeline errors with sentinel classification.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	// ErrValidation marks configuration errors detected before any stage runs.
	ErrValidation = errors.New("validation error")
	// ErrToolFailure marks an external tool exiting nonzero. Fatal, no retry.
	ErrToolFailure = errors.New("tool failure")
	// ErrIncomplete marks a dispatched stage whose completion markers are
	// missing. Fatal; the message names the artifact to delete before rerun.
	ErrIncomplete = errors.New("stage incomplete")
	// ErrInternal marks unexpected failures in the driver itself.
	ErrInternal = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "partitions", "grid.submit")
	Stage    string // Pipeline stage that failed (e.g., "consensus")
	Op       string // Operation that failed (e.g., "grid.submit")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a configuration error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// ToolFailure creates an error for an external tool invocation that failed.
func ToolFailure(stage, command string, cause error) error {
	return &Error{
		Sentinel: ErrToolFailure,
		Message:  fmt.Sprintf("stage %s: %s: %v", stage, command, cause),
		Stage:    stage,
		Cause:    cause,
	}
}

// Incomplete creates an error for a stage whose markers are missing after
// dispatch. retryArtifact names the file a human must remove to force rerun.
func Incomplete(stage, retryArtifact, detail string) error {
	return &Error{
		Sentinel: ErrIncomplete,
		Message:  fmt.Sprintf("stage %s did not complete: %s; remove %s to retry", stage, detail, retryArtifact),
		Stage:    stage,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
