// Package models defines the process and process step models driven by the process engine.
package models

import "time"

// ProcessType identifies the shape of a workflow.
type ProcessType string

const (
	ProcessTypeApplicationChecklist ProcessType = "APPLICATION_CHECKLIST"
	ProcessTypeOfferSubscription    ProcessType = "OFFER_SUBSCRIPTION"
	ProcessTypeInvitation           ProcessType = "INVITATION"
	ProcessTypeMailing              ProcessType = "MAILING"
)

// ProcessStepStatus is the lifecycle state of a single process step.
type ProcessStepStatus string

const (
	ProcessStepStatusTodo       ProcessStepStatus = "TODO"        // Runnable, picked up by dispatchers
	ProcessStepStatusInProgress ProcessStepStatus = "IN_PROGRESS" // Handed off, waits for an external completion
	ProcessStepStatusDone       ProcessStepStatus = "DONE"
	ProcessStepStatusFailed     ProcessStepStatus = "FAILED"
	ProcessStepStatusSkipped    ProcessStepStatus = "SKIPPED"
	ProcessStepStatusDuplicate  ProcessStepStatus = "DUPLICATE"
)

// AllProcessStepStatuses lists every known step status.
func AllProcessStepStatuses() []ProcessStepStatus {
	return []ProcessStepStatus{
		ProcessStepStatusTodo,
		ProcessStepStatusInProgress,
		ProcessStepStatusDone,
		ProcessStepStatusFailed,
		ProcessStepStatusSkipped,
		ProcessStepStatusDuplicate,
	}
}

// IsValid reports whether s is a known status.
func (s ProcessStepStatus) IsValid() bool {
	for _, known := range AllProcessStepStatuses() {
		if s == known {
			return true
		}
	}

	return false
}

// IsTerminal reports whether a step in this status will never run again.
func (s ProcessStepStatus) IsTerminal() bool {
	switch s {
	case ProcessStepStatusDone, ProcessStepStatusFailed, ProcessStepStatusSkipped, ProcessStepStatusDuplicate:
		return true
	default:
		return false
	}
}

// IsNoOp reports whether the status marks a step that finished without doing real work.
func (s ProcessStepStatus) IsNoOp() bool {
	return s == ProcessStepStatusSkipped || s == ProcessStepStatusDuplicate
}

// Process is one workflow instance.
type Process struct {
	ID             string      `json:"id"`
	Type           ProcessType `json:"process_type"`
	ExternalID     string      `json:"external_id,omitempty"` // Business key of the entity that started the process
	Version        int64       `json:"version"`
	LockExpiryDate *time.Time  `json:"lock_expiry_date,omitempty"`
	DateCreated    time.Time   `json:"date_created"`
}

// IsLeased reports whether a worker holds a non-expired lease at now.
func (p *Process) IsLeased(now time.Time) bool {
	return p.LockExpiryDate != nil && p.LockExpiryDate.After(now)
}

// ProcessStep is one scheduled or finished unit of work of a process.
type ProcessStep struct {
	ID              string            `json:"id"`
	ProcessID       string            `json:"process_id"`
	Type            ProcessStepType   `json:"process_step_type"`
	Status          ProcessStepStatus `json:"process_step_status"`
	DateCreated     time.Time         `json:"date_created"`
	DateLastChanged *time.Time        `json:"date_last_changed,omitempty"`
	Message         *string           `json:"message,omitempty"`
}

// IsOpen reports whether the step has not reached a terminal status.
func (s *ProcessStep) IsOpen() bool {
	return !s.Status.IsTerminal()
}

// OpenStepOfType returns the open step of the given type, if any.
func OpenStepOfType(steps []ProcessStep, stepType ProcessStepType) (ProcessStep, bool) {
	for _, step := range steps {
		if step.Type == stepType && step.IsOpen() {
			return step, true
		}
	}

	return ProcessStep{}, false
}

// CountSteps returns how many steps of stepType are in status.
func CountSteps(steps []ProcessStep, stepType ProcessStepType, status ProcessStepStatus) int {
	count := 0

	for _, step := range steps {
		if step.Type == stepType && step.Status == status {
			count++
		}
	}

	return count
}
