package processes

import (
	"fmt"
	"slices"
	"time"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/persistence"
)

// Scheduler turns a step result into the transition written by ApplyStepResult.
type Scheduler struct {
	table *models.LegalityTable
	// maxRetries caps FAILED steps of one type that get a retrigger; 0 means no cap.
	maxRetries int
}

// NewScheduler creates a scheduler.
func NewScheduler(table *models.LegalityTable, maxRetries int) *Scheduler {
	return &Scheduler{table: table, maxRetries: max(maxRetries, 0)}
}

// Table returns the legality table the scheduler validates against.
func (s *Scheduler) Table() *models.LegalityTable {
	return s.table
}

// Plan decides the stored status, message and next steps of step for result.
func (s *Scheduler) Plan(process models.Process, step models.ProcessStep, result StepResult, history []models.ProcessStep) (persistence.StepTransition, error) {
	err := s.table.Check(process.Type, step.Type)
	if err != nil {
		return persistence.StepTransition{}, err
	}

	transition := persistence.StepTransition{
		StepID:  step.ID,
		Status:  result.Status,
		Message: modifiedMessage(step.Message, result.ModifyMessage),
	}

	switch {
	case !result.Status.IsValid():
		return failedTransition(step, fmt.Sprintf("handler returned unknown status %q", result.Status)), nil

	case result.Status == models.ProcessStepStatusFailed:
		if !result.Retryable {
			return transition, nil
		}

		variant, ok := s.table.RetriggerVariantOf(step.Type)
		if ok && s.withinRetryBudget(step.Type, history) {
			transition.NextSteps = []models.ProcessStepType{variant}
		}

		return transition, nil

	default:
		next, err := s.validateNext(process.Type, result.Next)
		if err != nil {
			return failedTransition(step, err.Error()), nil
		}

		transition.NextSteps = next

		return transition, nil
	}
}

// RetriggerTarget returns the step type a retrigger of stepType creates: its retrigger
// variant when one exists, otherwise stepType itself.
func (s *Scheduler) RetriggerTarget(processType models.ProcessType, stepType models.ProcessStepType) (models.ProcessStepType, error) {
	err := s.table.Check(processType, stepType)
	if err != nil {
		return "", err
	}

	variant, ok := s.table.RetriggerVariantOf(stepType)
	if !ok {
		return stepType, nil
	}

	err = s.table.Check(processType, variant)
	if err != nil {
		return "", err
	}

	return variant, nil
}

func (s *Scheduler) validateNext(processType models.ProcessType, next []models.ProcessStepType) ([]models.ProcessStepType, error) {
	var planned []models.ProcessStepType

	for _, stepType := range next {
		err := s.table.Check(processType, stepType)
		if err != nil {
			return nil, fmt.Errorf("invalid next step: %w", err)
		}

		if !slices.Contains(planned, stepType) {
			planned = append(planned, stepType)
		}
	}

	return planned, nil
}

func (s *Scheduler) withinRetryBudget(stepType models.ProcessStepType, history []models.ProcessStep) bool {
	if s.maxRetries == 0 {
		return true
	}

	return models.CountSteps(history, stepType, models.ProcessStepStatusFailed) < s.maxRetries
}

func failedTransition(step models.ProcessStep, message string) persistence.StepTransition {
	return persistence.StepTransition{
		StepID:  step.ID,
		Status:  models.ProcessStepStatusFailed,
		Message: &message,
	}
}

func modifiedMessage(current *string, modify func(*string)) *string {
	if modify == nil {
		if current == nil {
			return nil
		}

		message := *current

		return &message
	}

	var message string
	if current != nil {
		message = *current
	}

	modify(&message)

	if message == "" {
		return nil
	}

	return &message
}

// checklistEntries applies mutation to the stored entry of its type, or to a fresh TO_DO entry.
func checklistEntries(externalID string, entries []models.ChecklistEntry, mutation *ChecklistMutation, now time.Time) []models.ChecklistEntry {
	if mutation == nil || externalID == "" {
		return nil
	}

	entry, found := models.FindChecklistEntry(entries, mutation.Type)
	if !found {
		entry = models.ChecklistEntry{
			ExternalID:  externalID,
			Type:        mutation.Type,
			Status:      models.ChecklistStatusToDo,
			DateCreated: now,
		}
	}

	if mutation.Modify != nil {
		mutation.Modify(&entry)
	}

	entry.ExternalID = externalID
	entry.Type = mutation.Type

	return []models.ChecklistEntry{entry}
}
