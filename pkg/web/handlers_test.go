package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/portal-processes/pkg/handlers"
	"github.com/dukex/portal-processes/pkg/mocks"
	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/persistence/memory"
	"github.com/dukex/portal-processes/pkg/processes"
	"github.com/dukex/portal-processes/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T, health web.HealthChecker) (*fiber.App, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	table := models.DefaultLegalityTable()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scheduler := processes.NewScheduler(table, 0)
	leases := processes.NewLeaseManager(store, clockwork.NewRealClock(), time.Minute)
	gateway := processes.NewGateway(store, scheduler, leases, logger, processes.WithFollowUps(handlers.FollowUps()))

	if health == nil {
		health = store
	}

	apiHandlers := web.NewAPIHandlers(gateway, health, validator.New(validator.WithRequiredStructEnabled()), handlers.InitialSteps)

	app := fiber.New()

	p := app.Group("/processes")
	p.Post("/", apiHandlers.CreateProcess)
	p.Get("/:id", apiHandlers.GetProcess)
	p.Post("/:id/retrigger", apiHandlers.RetriggerStep)
	p.Post("/:id/complete", apiHandlers.CompleteStep)

	app.Get("/health", apiHandlers.HealthCheck)

	return app, store
}

func startProcess(t *testing.T, store *memory.Store, processType models.ProcessType, externalID string, steps ...models.ProcessStepType) string {
	t.Helper()

	ctx := context.Background()

	processID, err := store.CreateProcess(ctx, processType, externalID)
	require.NoError(t, err)

	for _, stepType := range steps {
		_, err = store.CreateStep(ctx, processID, stepType, models.ProcessStepStatusTodo)
		require.NoError(t, err)
	}

	return processID
}

func doJSON(t *testing.T, app *fiber.App, method, url string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		if str, ok := payload.(string); ok {
			body = bytes.NewBufferString(str)
		} else {
			encoded, err := json.Marshal(payload)
			require.NoError(t, err)

			body = bytes.NewBuffer(encoded)
		}
	}

	req := httptest.NewRequest(method, url, body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	problemType, _ := problem["type"].(string)

	return problemType
}

func TestAPIHandlers_CreateProcess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedType   string
		expectedSteps  []models.ProcessStepType
	}{
		{
			name:           "uses the initial steps of the process type",
			requestBody:    web.CreateProcessRequest{ProcessType: "INVITATION", ExternalID: "invitation-1"},
			expectedStatus: http.StatusCreated,
			expectedSteps:  []models.ProcessStepType{models.StepInvitationCreateCentralIdp},
		},
		{
			name: "explicit steps",
			requestBody: web.CreateProcessRequest{
				ProcessType: "APPLICATION_CHECKLIST",
				ExternalID:  "application-1",
				Steps:       []string{"CREATE_BUSINESS_PARTNER_NUMBER_PUSH", "CREATE_IDENTITY_WALLET"},
			},
			expectedStatus: http.StatusCreated,
			expectedSteps:  []models.ProcessStepType{models.StepCreateBusinessPartnerNumberPush, models.StepCreateIdentityWallet},
		},
		{
			name:           "unknown process type",
			requestBody:    web.CreateProcessRequest{ProcessType: "PAYROLL"},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "step of another process type",
			requestBody:    web.CreateProcessRequest{ProcessType: "MAILING", Steps: []string{"INVITATION_CREATE_USER"}},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t, nil)

			resp, body := doJSON(t, app, http.MethodPost, "/processes", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus != http.StatusCreated {
				assert.Equal(t, tt.expectedType, problemType(t, body))

				return
			}

			var created web.ProcessResponse
			require.NoError(t, json.Unmarshal(body, &created))
			assert.NotEmpty(t, created.ID)
			assert.Equal(t, int64(1), created.Version)
			assert.NotNil(t, created.Checklist)

			stepTypes := make([]models.ProcessStepType, 0, len(created.Steps))
			for _, step := range created.Steps {
				assert.Equal(t, models.ProcessStepStatusTodo, step.Status)
				stepTypes = append(stepTypes, step.Type)
			}

			assert.Equal(t, tt.expectedSteps, stepTypes)
		})
	}
}

func TestAPIHandlers_GetProcess(t *testing.T) {
	t.Parallel()

	t.Run("returns the process with its steps", func(t *testing.T) {
		t.Parallel()

		app, store := setupTestApp(t, nil)
		processID := startProcess(t, store, models.ProcessTypeMailing, "mail-1", models.StepSendMail)

		resp, body := doJSON(t, app, http.MethodGet, "/processes/"+processID, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var process web.ProcessResponse
		require.NoError(t, json.Unmarshal(body, &process))
		assert.Equal(t, processID, process.ID)
		assert.Equal(t, models.ProcessTypeMailing, process.Type)
		assert.Equal(t, "mail-1", process.ExternalID)
		require.Len(t, process.Steps, 1)
		assert.Equal(t, models.StepSendMail, process.Steps[0].Type)
	})

	t.Run("unknown process", func(t *testing.T) {
		t.Parallel()

		app, _ := setupTestApp(t, nil)

		resp, body := doJSON(t, app, http.MethodGet, "/processes/missing", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "process_not_found", problemType(t, body))
	})
}

func TestAPIHandlers_RetriggerStep(t *testing.T) {
	t.Parallel()

	t.Run("creates the retrigger variant", func(t *testing.T) {
		t.Parallel()

		app, store := setupTestApp(t, nil)
		processID := startProcess(t, store, models.ProcessTypeApplicationChecklist, "application-1", models.StepEndClearingHouse)

		resp, body := doJSON(t, app, http.MethodPost, "/processes/"+processID+"/retrigger",
			web.RetriggerStepRequest{StepType: "START_SELF_DESCRIPTION_LP"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var result web.RetriggerResponse
		require.NoError(t, json.Unmarshal(body, &result))
		assert.True(t, result.Created)
		assert.Equal(t, models.StepRetriggerSelfDescriptionLP, result.Step.Type)
		assert.Equal(t, models.ProcessStepStatusTodo, result.Step.Status)
	})

	t.Run("returns the open equivalent step", func(t *testing.T) {
		t.Parallel()

		app, store := setupTestApp(t, nil)
		processID := startProcess(t, store, models.ProcessTypeMailing, "mail-1", models.StepSendMail)

		resp, body := doJSON(t, app, http.MethodPost, "/processes/"+processID+"/retrigger",
			web.RetriggerStepRequest{StepType: "SEND_MAIL"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result web.RetriggerResponse
		require.NoError(t, json.Unmarshal(body, &result))
		assert.False(t, result.Created)
		assert.Equal(t, models.StepSendMail, result.Step.Type)
	})

	t.Run("step running on a worker", func(t *testing.T) {
		t.Parallel()

		app, store := setupTestApp(t, nil)
		processID := startProcess(t, store, models.ProcessTypeMailing, "mail-1", models.StepSendMail)

		_, err := store.TryAcquireLease(context.Background(), processID, 1, time.Minute)
		require.NoError(t, err)

		resp, body := doJSON(t, app, http.MethodPost, "/processes/"+processID+"/retrigger",
			web.RetriggerStepRequest{StepType: "SEND_MAIL"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "conflict", problemType(t, body))
	})

	t.Run("illegal step type", func(t *testing.T) {
		t.Parallel()

		app, store := setupTestApp(t, nil)
		processID := startProcess(t, store, models.ProcessTypeMailing, "mail-1", models.StepSendMail)

		resp, body := doJSON(t, app, http.MethodPost, "/processes/"+processID+"/retrigger",
			web.RetriggerStepRequest{StepType: "INVITATION_CREATE_USER"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "validation_error", problemType(t, body))
	})

	t.Run("missing step type", func(t *testing.T) {
		t.Parallel()

		app, store := setupTestApp(t, nil)
		processID := startProcess(t, store, models.ProcessTypeMailing, "mail-1", models.StepSendMail)

		resp, _ := doJSON(t, app, http.MethodPost, "/processes/"+processID+"/retrigger", web.RetriggerStepRequest{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAPIHandlers_CompleteStep(t *testing.T) {
	t.Parallel()

	t.Run("completes a manual step with follow-ups and checklist", func(t *testing.T) {
		t.Parallel()

		app, store := setupTestApp(t, nil)
		processID := startProcess(t, store, models.ProcessTypeApplicationChecklist, "application-1", models.StepEndClearingHouse)

		resp, body := doJSON(t, app, http.MethodPost, "/processes/"+processID+"/complete", web.CompleteStepRequest{
			StepType: "END_CLEARING_HOUSE",
			Status:   "DONE",
			Message:  "clearing house approved",
			Checklist: &web.ChecklistUpdate{
				EntryType: "CLEARING_HOUSE",
				Status:    "DONE",
				Comment:   "approved",
			},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result web.CompletionResponse
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, models.ProcessStepStatusDone, result.Status)
		assert.Equal(t, []models.ProcessStepType{models.StepStartSelfDescriptionLP}, result.NextSteps)
		assert.Equal(t, int64(3), result.Version)

		entries, err := store.ChecklistEntries(context.Background(), "application-1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, models.ChecklistEntryClearingHouse, entries[0].Type)
		assert.Equal(t, models.ChecklistStatusDone, entries[0].Status)
		assert.Equal(t, "approved", entries[0].Comment)
	})

	tests := []struct {
		name           string
		steps          []models.ProcessStepType
		requestBody    web.CompleteStepRequest
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "non-terminal status",
			steps:          []models.ProcessStepType{models.StepEndClearingHouse},
			requestBody:    web.CompleteStepRequest{StepType: "END_CLEARING_HOUSE", Status: "TODO"},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "executable step waiting for a worker",
			steps:          []models.ProcessStepType{models.StepCreateBusinessPartnerNumberPush},
			requestBody:    web.CompleteStepRequest{StepType: "CREATE_BUSINESS_PARTNER_NUMBER_PUSH", Status: "DONE"},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "no open step of the type",
			steps:          []models.ProcessStepType{models.StepCreateBusinessPartnerNumberPush},
			requestBody:    web.CompleteStepRequest{StepType: "END_CLEARING_HOUSE", Status: "DONE"},
			expectedStatus: http.StatusNotFound,
			expectedType:   "step_not_found",
		},
		{
			name:           "illegal next step",
			steps:          []models.ProcessStepType{models.StepEndClearingHouse},
			requestBody:    web.CompleteStepRequest{StepType: "END_CLEARING_HOUSE", Status: "DONE", Next: []string{"SEND_MAIL"}},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, store := setupTestApp(t, nil)
			processID := startProcess(t, store, models.ProcessTypeApplicationChecklist, "application-1", tt.steps...)

			resp, body := doJSON(t, app, http.MethodPost, "/processes/"+processID+"/complete", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			assert.Equal(t, tt.expectedType, problemType(t, body))

			steps, err := store.StepsByProcess(context.Background(), processID)
			require.NoError(t, err)
			assert.Len(t, steps, len(tt.steps))
		})
	}
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()

		app, _ := setupTestApp(t, nil)

		resp, body := doJSON(t, app, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var health map[string]any
		require.NoError(t, json.Unmarshal(body, &health))
		assert.Equal(t, "healthy", health["status"])
	})

	t.Run("repository unavailable", func(t *testing.T) {
		t.Parallel()

		repository := mocks.NewMockPersistence()
		repository.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

		app, _ := setupTestApp(t, repository)

		resp, body := doJSON(t, app, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		var health map[string]any
		require.NoError(t, json.Unmarshal(body, &health))
		assert.Equal(t, "unhealthy", health["status"])
		assert.Equal(t, map[string]any{"repository": "connection refused"}, health["checkers"])

		repository.AssertExpectations(t)
	})
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	processes.NewMetrics(registry)

	app := fiber.New()
	app.Get("/metrics", web.MetricsHandler(registry))

	resp, body := doJSON(t, app, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "portal_processes_poll_errors_total")
}
