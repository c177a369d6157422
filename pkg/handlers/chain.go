package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/portal-processes/pkg/log"
	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/processes"
)

// ErrNoExternalID indicates a process that does not name the entity its steps act on.
var ErrNoExternalID = errors.New("process has no external id")

// link is one step of a linear chain: it runs an operation on the process' external id
// and schedules next when the operation succeeds.
type link struct {
	stepType models.ProcessStepType
	next     []models.ProcessStepType
	run      func(ctx context.Context, externalID string) (string, error)

	// checklist, when set, is moved to onSuccess or to FAILED with the step.
	checklist models.ChecklistEntryType
	onSuccess models.ChecklistEntryStatus
}

func (l link) Handle(ctx context.Context, sc processes.StepContext) (processes.StepResult, error) {
	externalID := sc.Process.ExternalID
	if externalID == "" {
		return processes.StepResult{}, Permanent(ErrNoExternalID)
	}

	message, err := l.run(ctx, externalID)
	if err != nil {
		result := processes.StepResult{}
		if l.checklist != "" {
			result = result.WithChecklist(l.checklist, checklistStatus(models.ChecklistStatusFailed, err.Error()))
		}

		return result, processes.Transient(fmt.Errorf("%s: %w", l.stepType, err))
	}

	result := processes.Done(l.next...)
	if message != "" {
		result = result.WithMessage(message)
	}

	if l.checklist != "" {
		result = result.WithChecklist(l.checklist, checklistStatus(l.onSuccess, message))
	}

	log.FromContext(ctx).DebugContext(ctx, "step operation succeeded", "next_steps", l.next)

	return result, nil
}

func checklistStatus(status models.ChecklistEntryStatus, comment string) func(*models.ChecklistEntry) {
	return func(entry *models.ChecklistEntry) {
		entry.Status = status
		entry.Comment = comment
	}
}

// chain links each step to the one after it; the last step ends the chain.
func chain(steps ...link) []link {
	for i := range steps {
		if i+1 < len(steps) && len(steps[i].next) == 0 {
			steps[i].next = []models.ProcessStepType{steps[i+1].stepType}
		}
	}

	return steps
}

// noMessage adapts an operation without a result.
func noMessage(fn func(ctx context.Context, externalID string) error) func(ctx context.Context, externalID string) (string, error) {
	return func(ctx context.Context, externalID string) (string, error) {
		return "", fn(ctx, externalID)
	}
}

func register(registry *processes.Registry, links []link) error {
	for _, l := range links {
		err := registry.Register(l.stepType, l)
		if err != nil {
			return fmt.Errorf("failed to register handler: %w", err)
		}
	}

	return nil
}
