package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Launch when the scope already has
	// an active execution. At most one execution may be live per
	// (workspace, user).
	ErrAlreadyRunning = errors.New("workflow is already running")

	// ErrNothingToStop is returned by Stop when no active execution
	// exists for the scope.
	ErrNothingToStop = errors.New("no active workflow to stop")
)

// ValidationError reports a pipeline that cannot be launched. The reason
// is user-facing.
type ValidationError struct {
	Reason string
}

// Error returns the validation failure description.
func (e *ValidationError) Error() string {
	return "invalid pipeline: " + e.Reason
}

// newValidationErrorf builds a ValidationError from a format string.
func newValidationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
