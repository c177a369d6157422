// Package web provides HTTP handlers and REST API endpoints for process administration.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/processes"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// InitialStepsFunc returns the steps a process of the given type starts with.
type InitialStepsFunc func(processType models.ProcessType) []models.ProcessStepType

type APIHandlers struct {
	gateway      *processes.Gateway
	repository   HealthChecker
	validator    *validator.Validate
	initialSteps InitialStepsFunc
}

func NewAPIHandlers(
	gateway *processes.Gateway,
	repository HealthChecker,
	validator *validator.Validate,
	initialSteps InitialStepsFunc,
) *APIHandlers {
	return &APIHandlers{
		gateway:      gateway,
		repository:   repository,
		validator:    validator,
		initialSteps: initialSteps,
	}
}

func (h *APIHandlers) GetProcess(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Process ID is required")
	}

	view, err := h.gateway.Describe(c.Context(), id)
	if err != nil {
		return handleProcessError(c, err)
	}

	return c.JSON(TransformProcessResponse(view))
}

func (h *APIHandlers) CreateProcess(c fiber.Ctx) error {
	var req CreateProcessRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	processType := models.ProcessType(req.ProcessType)

	steps := stepTypes(req.Steps)
	if len(steps) == 0 && h.initialSteps != nil {
		steps = h.initialSteps(processType)
	}

	view, err := h.gateway.Start(c.Context(), processType, req.ExternalID, steps...)
	if err != nil {
		return handleProcessError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformProcessResponse(view))
}

func (h *APIHandlers) RetriggerStep(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Process ID is required")
	}

	var req RetriggerStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.gateway.Retrigger(c.Context(), id, models.ProcessStepType(req.StepType))
	if err != nil {
		return handleProcessError(c, err)
	}

	status := fiber.StatusOK
	if result.Created {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(RetriggerResponse{Step: result.Step, Created: result.Created})
}

func (h *APIHandlers) CompleteStep(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Process ID is required")
	}

	var req CompleteStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.gateway.Complete(c.Context(), id, models.ProcessStepType(req.StepType), req.outcome())
	if err != nil {
		return handleProcessError(c, err)
	}

	nextSteps := result.NextSteps
	if nextSteps == nil {
		nextSteps = []models.ProcessStepType{}
	}

	return c.JSON(CompletionResponse{
		StepID:    result.StepID,
		Status:    result.Status,
		NextSteps: nextSteps,
		Version:   result.Version,
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck := "ok"
	status := "healthy"
	message := "Process API is healthy"
	httpStatus := http.StatusOK

	if err := h.repository.HealthCheck(c.Context()); err != nil {
		repositoryCheck = err.Error()
		status = "unhealthy"
		message = "Process API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// MetricsHandler exposes the collectors of gatherer in the Prometheus text format.
func MetricsHandler(gatherer prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
