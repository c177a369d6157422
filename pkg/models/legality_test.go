package models_test

import (
	"errors"
	"testing"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLegalityTable_IsConsistent(t *testing.T) {
	t.Parallel()

	table := models.DefaultLegalityTable()

	assert.ElementsMatch(t, []models.ProcessType{
		models.ProcessTypeApplicationChecklist,
		models.ProcessTypeOfferSubscription,
		models.ProcessTypeMailing,
		models.ProcessTypeInvitation,
	}, table.ProcessTypes())

	for _, stepType := range table.StepTypes() {
		variant, ok := table.RetriggerVariantOf(stepType)
		if !ok {
			continue
		}

		assert.True(t, table.IsRetrigger(variant), "variant of %s should be a retrigger step", stepType)

		original, ok := table.RetriggeredStepOf(variant)
		require.True(t, ok)
		assert.Equal(t, stepType, original)
	}
}

func TestLegalityTable_Check(t *testing.T) {
	t.Parallel()

	table := models.DefaultLegalityTable()

	tests := []struct {
		name        string
		processType models.ProcessType
		stepType    models.ProcessStepType
		legal       bool
	}{
		{"invitation step on invitation", models.ProcessTypeInvitation, models.StepInvitationCreateUser, true},
		{"invitation step on offer subscription", models.ProcessTypeOfferSubscription, models.StepInvitationCreateUser, false},
		{"retrigger step on its own process type", models.ProcessTypeMailing, models.StepRetriggerSendMail, true},
		{"unknown step type", models.ProcessTypeMailing, models.ProcessStepType("UNKNOWN"), false},
		{"unknown process type", models.ProcessType("UNKNOWN"), models.StepSendMail, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := table.Check(tt.processType, tt.stepType)
			if tt.legal {
				assert.NoError(t, err)
				assert.True(t, table.IsLegal(tt.processType, tt.stepType))

				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrIllegalStepType))

			var illegal *models.IllegalStepTypeError
			require.ErrorAs(t, err, &illegal)
			assert.Equal(t, tt.stepType, illegal.StepType)
		})
	}
}

func TestLegalityTable_Kinds(t *testing.T) {
	t.Parallel()

	table := models.DefaultLegalityTable()

	assert.True(t, table.IsExecutable(models.StepInvitationSendMail))
	assert.False(t, table.IsExecutable(models.StepRetriggerInvitationSendMail))
	assert.False(t, table.IsExecutable(models.StepVerifyRegistration))
	assert.True(t, table.IsManual(models.StepEndClearingHouse))

	variant, ok := table.RetriggerVariantOf(models.StepInvitationSendMail)
	require.True(t, ok)
	assert.Equal(t, models.StepRetriggerInvitationSendMail, variant)

	_, ok = table.RetriggerVariantOf(models.StepActivateApplication)
	assert.False(t, ok)

	assert.Contains(t, table.ExecutableStepTypesFor(models.ProcessTypeMailing), models.StepSendMail)
	assert.NotContains(t, table.ExecutableStepTypesFor(models.ProcessTypeMailing), models.StepRetriggerSendMail)
	assert.Equal(t, []models.ProcessStepType{models.StepRetriggerSendMail}, table.RetriggerStepTypesFor(models.ProcessTypeMailing))
}

func TestNewLegalityTable_RejectsInconsistentDefinitions(t *testing.T) {
	t.Parallel()

	const (
		alpha models.ProcessType = "ALPHA"
		beta  models.ProcessType = "BETA"
	)

	tests := []struct {
		name        string
		definitions []models.StepTypeDefinition
	}{
		{
			name: "duplicate step type",
			definitions: []models.StepTypeDefinition{
				{Type: "A", ProcessTypes: []models.ProcessType{alpha}, Kind: models.StepKindExecutable},
				{Type: "A", ProcessTypes: []models.ProcessType{alpha}, Kind: models.StepKindManual},
			},
		},
		{
			name: "no process type",
			definitions: []models.StepTypeDefinition{
				{Type: "A", Kind: models.StepKindExecutable},
			},
		},
		{
			name: "undeclared retrigger",
			definitions: []models.StepTypeDefinition{
				{Type: "A", ProcessTypes: []models.ProcessType{alpha}, Kind: models.StepKindExecutable, Retrigger: "RETRIGGER_A"},
			},
		},
		{
			name: "retrigger is not of retrigger kind",
			definitions: []models.StepTypeDefinition{
				{Type: "A", ProcessTypes: []models.ProcessType{alpha}, Kind: models.StepKindExecutable, Retrigger: "B"},
				{Type: "B", ProcessTypes: []models.ProcessType{alpha}, Kind: models.StepKindExecutable},
			},
		},
		{
			name: "retrigger belongs to another process type",
			definitions: []models.StepTypeDefinition{
				{Type: "A", ProcessTypes: []models.ProcessType{alpha}, Kind: models.StepKindExecutable, Retrigger: "RETRIGGER_A"},
				{Type: "RETRIGGER_A", ProcessTypes: []models.ProcessType{beta}, Kind: models.StepKindRetrigger},
			},
		},
		{
			name: "orphan retrigger",
			definitions: []models.StepTypeDefinition{
				{Type: "RETRIGGER_A", ProcessTypes: []models.ProcessType{alpha}, Kind: models.StepKindRetrigger},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := models.NewLegalityTable(tt.definitions...)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidStepTypeDefinition)
		})
	}
}

func TestProcessStepStatus(t *testing.T) {
	t.Parallel()

	assert.False(t, models.ProcessStepStatusTodo.IsTerminal())
	assert.False(t, models.ProcessStepStatusInProgress.IsTerminal())
	assert.True(t, models.ProcessStepStatusDone.IsTerminal())
	assert.True(t, models.ProcessStepStatusFailed.IsTerminal())
	assert.True(t, models.ProcessStepStatusSkipped.IsNoOp())
	assert.True(t, models.ProcessStepStatusDuplicate.IsNoOp())
	assert.False(t, models.ProcessStepStatusDone.IsNoOp())
	assert.False(t, models.ProcessStepStatus("PAUSED").IsValid())
}
