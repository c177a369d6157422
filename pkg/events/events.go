// Package events defines event types and structures for process step notifications.
package events

import (
	"time"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "portal.process.steps"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ProcessStartedEvent         EventType = "process.started"
	ProcessStepFinishedEvent    EventType = "process.step.finished"
	ProcessStepRetriggeredEvent EventType = "process.step.retriggered"
)

type BaseEvent struct {
	ID          string             `json:"id"`
	Type        EventType          `json:"type"`
	Timestamp   time.Time          `json:"timestamp"`
	ProcessID   string             `json:"process_id"`
	ProcessType models.ProcessType `json:"process_type"`
	WorkerID    string             `json:"worker_id,omitempty"`
}

func newBaseEvent(eventType EventType, process models.Process, now time.Time) BaseEvent {
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   now,
		ProcessID:   process.ID,
		ProcessType: process.Type,
	}
}

// ProcessStarted is published when a process is created with its initial steps.
type ProcessStarted struct {
	BaseEvent

	ExternalID string                   `json:"external_id,omitempty"`
	Steps      []models.ProcessStepType `json:"steps"`
}

func NewProcessStarted(process models.Process, steps []models.ProcessStepType, now time.Time) ProcessStarted {
	return ProcessStarted{
		BaseEvent:  newBaseEvent(ProcessStartedEvent, process, now),
		ExternalID: process.ExternalID,
		Steps:      steps,
	}
}

func (p ProcessStarted) GetType() EventType {
	return ProcessStartedEvent
}

// ProcessStepFinished is published after a step outcome has been committed.
type ProcessStepFinished struct {
	BaseEvent

	StepID    string                   `json:"step_id"`
	StepType  models.ProcessStepType   `json:"step_type"`
	Status    models.ProcessStepStatus `json:"status"`
	Message   string                   `json:"message,omitempty"`
	NextSteps []models.ProcessStepType `json:"next_steps,omitempty"`
	Duration  time.Duration            `json:"duration"`
}

func NewProcessStepFinished(process models.Process, step models.ProcessStep, status models.ProcessStepStatus, message *string, next []models.ProcessStepType, now time.Time, duration time.Duration) ProcessStepFinished {
	event := ProcessStepFinished{
		BaseEvent: newBaseEvent(ProcessStepFinishedEvent, process, now),
		StepID:    step.ID,
		StepType:  step.Type,
		Status:    status,
		NextSteps: next,
		Duration:  duration,
	}

	if message != nil {
		event.Message = *message
	}

	return event
}

func (p ProcessStepFinished) GetType() EventType {
	return ProcessStepFinishedEvent
}

// ProcessStepRetriggered is published when an operator retriggers a step.
type ProcessStepRetriggered struct {
	BaseEvent

	StepID            string                 `json:"step_id"`
	StepType          models.ProcessStepType `json:"step_type"`
	RequestedStepType models.ProcessStepType `json:"requested_step_type"`
	Created           bool                   `json:"created"`
}

func NewProcessStepRetriggered(process models.Process, step models.ProcessStep, requested models.ProcessStepType, created bool, now time.Time) ProcessStepRetriggered {
	return ProcessStepRetriggered{
		BaseEvent:         newBaseEvent(ProcessStepRetriggeredEvent, process, now),
		StepID:            step.ID,
		StepType:          step.Type,
		RequestedStepType: requested,
		Created:           created,
	}
}

func (p ProcessStepRetriggered) GetType() EventType {
	return ProcessStepRetriggeredEvent
}
