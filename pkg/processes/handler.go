// Package processes runs process steps: it leases due processes, invokes step handlers,
// schedules follow-up steps and exposes operator retriggers and completions.
package processes

import (
	"context"
	"log/slog"

	"github.com/dukex/portal-processes/pkg/models"
)

// StepContext is everything a handler gets to know about the step it runs.
type StepContext struct {
	Process models.Process
	Step    models.ProcessStep
	// History holds every step of the process, oldest first, including Step.
	History []models.ProcessStep
	// Checklist holds the checklist entries of Process.ExternalID.
	Checklist []models.ChecklistEntry
	Logger    *slog.Logger
}

// ChecklistMutation updates, or creates, the checklist entry of Type in the step's write.
type ChecklistMutation struct {
	Type   models.ChecklistEntryType
	Modify func(entry *models.ChecklistEntry)
}

// StepResult is the outcome a handler reports for one step.
type StepResult struct {
	Status models.ProcessStepStatus
	// ModifyMessage rewrites the stored step message; nil keeps it unchanged.
	ModifyMessage func(message *string)
	// Next lists the step types to schedule as TODO.
	Next []models.ProcessStepType
	// Retryable lets a FAILED step be followed by its retrigger variant.
	Retryable bool
	Checklist *ChecklistMutation
}

// Done returns a DONE result scheduling next.
func Done(next ...models.ProcessStepType) StepResult {
	return StepResult{Status: models.ProcessStepStatusDone, Next: next}
}

// Skipped returns a SKIPPED result with message.
func Skipped(message string) StepResult {
	return StepResult{Status: models.ProcessStepStatusSkipped}.WithMessage(message)
}

// WithMessage returns a copy of r that stores message on the step.
func (r StepResult) WithMessage(message string) StepResult {
	r.ModifyMessage = func(m *string) { *m = message }

	return r
}

// WithChecklist returns a copy of r that updates the checklist entry of entryType.
func (r StepResult) WithChecklist(entryType models.ChecklistEntryType, modify func(entry *models.ChecklistEntry)) StepResult {
	r.Checklist = &ChecklistMutation{Type: entryType, Modify: modify}

	return r
}

// Handler executes one executable step type.
type Handler interface {
	Handle(ctx context.Context, step StepContext) (StepResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, step StepContext) (StepResult, error)

func (f HandlerFunc) Handle(ctx context.Context, step StepContext) (StepResult, error) {
	return f(ctx, step)
}
