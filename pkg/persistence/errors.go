// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"

	"github.com/dukex/portal-processes/pkg/models"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrConflict indicates the process version moved on or a live lease exists.
	ErrConflict = errors.New("process was modified concurrently")

	// ErrProcessNotFound indicates a process was not found by the given identifier.
	ErrProcessNotFound = errors.New("process not found")

	// ErrStepNotFound indicates a step was not found or does not belong to the process.
	ErrStepNotFound = errors.New("process step not found")

	// ErrStepAlreadyOpen indicates the process already has a non-terminal step of the type.
	ErrStepAlreadyOpen = errors.New("process step of this type is already open")

	// ErrInvalidStatus indicates a step status outside the known set.
	ErrInvalidStatus = errors.New("invalid process step status")
)

// ProcessError wraps process-related errors with additional context.
type ProcessError struct {
	Op        string // Operation being performed (e.g., "CreateStep", "ApplyStepResult")
	ProcessID string // Process ID if applicable
	Err       error  // Underlying error
}

func (e *ProcessError) Error() string {
	if e.ProcessID == "" {
		return fmt.Sprintf("%s operation failed: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s operation failed for process %s: %v", e.Op, e.ProcessID, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for process errors.
func (e *ProcessError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewProcessError creates a new process error with context.
func NewProcessError(op, processID string, err error) *ProcessError {
	return &ProcessError{
		Op:        op,
		ProcessID: processID,
		Err:       err,
	}
}

// IsConflict checks if an error indicates a lost optimistic concurrency race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsProcessNotFound checks if an error indicates a process was not found.
func IsProcessNotFound(err error) bool {
	return errors.Is(err, ErrProcessNotFound)
}

// IsStepNotFound checks if an error indicates a step was not found.
func IsStepNotFound(err error) bool {
	return errors.Is(err, ErrStepNotFound)
}

// IsStepAlreadyOpen checks if an error indicates a duplicate open step.
func IsStepAlreadyOpen(err error) bool {
	return errors.Is(err, ErrStepAlreadyOpen)
}

// IsIllegalStepType checks if an error indicates a step type not legal for the process type.
func IsIllegalStepType(err error) bool {
	return errors.Is(err, models.ErrIllegalStepType)
}
