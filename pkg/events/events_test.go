package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessStepFinished_JSONSerialization(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	message := "mail sent"
	process := models.Process{ID: "process-1", Type: models.ProcessTypeMailing}
	step := models.ProcessStep{ID: "step-1", ProcessID: "process-1", Type: models.StepSendMail}

	original := NewProcessStepFinished(process, step, models.ProcessStepStatusDone, &message, nil, now, 2*time.Second)

	jsonData, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"process_id":"process-1"`)
	assert.Contains(t, string(jsonData), `"step_type":"SEND_MAIL"`)
	assert.Contains(t, string(jsonData), `"type":"process.step.finished"`)
	assert.NotContains(t, string(jsonData), "next_steps")

	var deserialized ProcessStepFinished

	err = json.Unmarshal(jsonData, &deserialized)
	require.NoError(t, err)

	assert.Equal(t, original, deserialized)
	assert.Equal(t, ProcessStepFinishedEvent, deserialized.GetType())
	assert.NotEmpty(t, deserialized.ID)
}

func TestNewProcessStepRetriggered(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	process := models.Process{ID: "process-1", Type: models.ProcessTypeInvitation}
	step := models.ProcessStep{ID: "step-2", Type: models.StepRetriggerInvitationSendMail}

	event := NewProcessStepRetriggered(process, step, models.StepInvitationSendMail, true, now)

	assert.Equal(t, ProcessStepRetriggeredEvent, event.Type)
	assert.Equal(t, models.StepRetriggerInvitationSendMail, event.StepType)
	assert.Equal(t, models.StepInvitationSendMail, event.RequestedStepType)
	assert.True(t, event.Created)
	assert.Equal(t, models.ProcessTypeInvitation, event.ProcessType)
}

func TestNewProcessStarted(t *testing.T) {
	process := models.Process{ID: "process-1", Type: models.ProcessTypeMailing, ExternalID: "mail-1"}

	event := NewProcessStarted(process, []models.ProcessStepType{models.StepSendMail}, time.Now())

	assert.Equal(t, ProcessStartedEvent, event.GetType())
	assert.Equal(t, "mail-1", event.ExternalID)
	assert.Equal(t, []models.ProcessStepType{models.StepSendMail}, event.Steps)
}
