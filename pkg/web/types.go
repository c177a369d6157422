// Package web provides HTTP request and response types for the process admin API.
package web

import (
	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/processes"
)

// CreateProcessRequest starts a process. Without steps the process type's initial steps are used.
type CreateProcessRequest struct {
	ProcessType string   `json:"process_type" validate:"required,oneof=APPLICATION_CHECKLIST OFFER_SUBSCRIPTION INVITATION MAILING"`
	ExternalID  string   `json:"external_id"`
	Steps       []string `json:"steps"        validate:"omitempty,dive,required"`
}

// RetriggerStepRequest re-enters a step of a process.
type RetriggerStepRequest struct {
	StepType string `json:"step_type" validate:"required"`
}

// ChecklistUpdate sets the status of one checklist entry together with a completion.
type ChecklistUpdate struct {
	EntryType string `json:"entry_type" validate:"required"`
	Status    string `json:"status"     validate:"required,oneof=TO_DO IN_PROGRESS DONE FAILED"`
	Comment   string `json:"comment"`
}

// CompleteStepRequest reports the outcome of a manual or handed-off step.
type CompleteStepRequest struct {
	StepType  string           `json:"step_type" validate:"required"`
	Status    string           `json:"status"    validate:"required,oneof=DONE FAILED SKIPPED DUPLICATE"`
	Message   string           `json:"message"`
	Next      []string         `json:"next"      validate:"omitempty,dive,required"`
	Retryable bool             `json:"retryable"`
	Checklist *ChecklistUpdate `json:"checklist" validate:"omitempty"`
}

// ProcessResponse is a process with its steps and checklist.
type ProcessResponse struct {
	models.Process

	Steps     []models.ProcessStep    `json:"steps"`
	Checklist []models.ChecklistEntry `json:"checklist"`
}

// RetriggerResponse is the open step a retrigger resolved to.
type RetriggerResponse struct {
	Step    models.ProcessStep `json:"step"`
	Created bool               `json:"created"`
}

// CompletionResponse describes a committed completion.
type CompletionResponse struct {
	StepID    string                   `json:"step_id"`
	Status    models.ProcessStepStatus `json:"status"`
	NextSteps []models.ProcessStepType `json:"next_steps"`
	Version   int64                    `json:"version"`
}

// TransformProcessResponse renders a process view, never with null collections.
func TransformProcessResponse(view processes.ProcessView) ProcessResponse {
	response := ProcessResponse{
		Process:   view.Process,
		Steps:     view.Steps,
		Checklist: view.Checklist,
	}

	if response.Steps == nil {
		response.Steps = []models.ProcessStep{}
	}

	if response.Checklist == nil {
		response.Checklist = []models.ChecklistEntry{}
	}

	return response
}

func (r CompleteStepRequest) outcome() processes.Outcome {
	outcome := processes.Outcome{
		Status:    models.ProcessStepStatus(r.Status),
		Message:   r.Message,
		Next:      stepTypes(r.Next),
		Retryable: r.Retryable,
	}

	if r.Checklist != nil {
		update := *r.Checklist
		outcome.Checklist = &processes.ChecklistMutation{
			Type: models.ChecklistEntryType(update.EntryType),
			Modify: func(entry *models.ChecklistEntry) {
				entry.Status = models.ChecklistEntryStatus(update.Status)
				entry.Comment = update.Comment
			},
		}
	}

	return outcome
}

func stepTypes(values []string) []models.ProcessStepType {
	if len(values) == 0 {
		return nil
	}

	out := make([]models.ProcessStepType, 0, len(values))
	for _, value := range values {
		out = append(out, models.ProcessStepType(value))
	}

	return out
}
