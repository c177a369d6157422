// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/google/uuid"
)

// CreateTestProcess creates a mailing process with default values that can be overridden.
func CreateTestProcess(overrides ...func(*models.Process)) models.Process {
	process := models.Process{
		ID:          uuid.New().String(),
		Type:        models.ProcessTypeMailing,
		ExternalID:  "external-" + uuid.New().String()[:8],
		Version:     1,
		DateCreated: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	for _, override := range overrides {
		override(&process)
	}

	return process
}

// WithProcessType sets the process type.
func WithProcessType(processType models.ProcessType) func(*models.Process) {
	return func(p *models.Process) {
		p.Type = processType
	}
}

// WithLease marks the process leased until expiresAt.
func WithLease(expiresAt time.Time) func(*models.Process) {
	return func(p *models.Process) {
		p.LockExpiryDate = &expiresAt
	}
}

// CreateTestStep creates a TODO step of the process.
func CreateTestStep(process models.Process, stepType models.ProcessStepType, overrides ...func(*models.ProcessStep)) models.ProcessStep {
	step := models.ProcessStep{
		ID:          uuid.New().String(),
		ProcessID:   process.ID,
		Type:        stepType,
		Status:      models.ProcessStepStatusTodo,
		DateCreated: process.DateCreated,
	}

	for _, override := range overrides {
		override(&step)
	}

	return step
}

// WithStatus sets the step status.
func WithStatus(status models.ProcessStepStatus) func(*models.ProcessStep) {
	return func(s *models.ProcessStep) {
		s.Status = status
	}
}

// WithMessage sets the step message.
func WithMessage(message string) func(*models.ProcessStep) {
	return func(s *models.ProcessStep) {
		s.Message = &message
	}
}
