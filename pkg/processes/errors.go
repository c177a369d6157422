package processes

import (
	"context"
	"errors"

	"github.com/dukex/portal-processes/pkg/models"
)

var (
	// ErrStepInProgress indicates the step is being executed by a worker right now.
	ErrStepInProgress = errors.New("process step is in progress")

	// ErrStepNotCompletable indicates the step is neither manual nor handed off.
	ErrStepNotCompletable = errors.New("process step cannot be completed externally")

	// ErrInvalidOutcome indicates an external completion with a non-terminal or unknown status.
	ErrInvalidOutcome = errors.New("invalid step outcome")

	// ErrNoInitialSteps indicates a process start request without steps.
	ErrNoInitialSteps = errors.New("process requires at least one initial step")

	// ErrHandlerAlreadyRegistered indicates a second handler for the same step type.
	ErrHandlerAlreadyRegistered = errors.New("handler already registered for step type")

	// ErrNotExecutable indicates a handler registration for a manual or retrigger step type.
	ErrNotExecutable = errors.New("step type is not executable")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Permanent marks err as not worth retrying. It wins over Transient anywhere in the chain.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// Transient marks err as worth a retrigger of the failed step.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &transientError{err: err}
}

// Retryable reports whether a failed step should be followed by its retrigger variant.
// Only errors marked with Transient are retried; Permanent, configuration errors and
// cancellation never are.
func Retryable(err error) bool {
	if err == nil || isPermanent(err) {
		return false
	}

	if errors.Is(err, models.ErrIllegalStepType) || errors.Is(err, context.Canceled) {
		return false
	}

	var transient *transientError

	return errors.As(err, &transient)
}

func isPermanent(err error) bool {
	var permanent *permanentError

	return errors.As(err, &permanent)
}
