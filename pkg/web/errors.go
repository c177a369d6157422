package web

import (
	"errors"

	"github.com/dukex/portal-processes/pkg/persistence"
	"github.com/dukex/portal-processes/pkg/processes"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleProcessError maps engine and persistence errors to problem responses.
func handleProcessError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsProcessNotFound(err):
		return notFound(c, "process_not_found", "process not found")

	case persistence.IsStepNotFound(err):
		return notFound(c, "step_not_found", "no open step of this type")

	case persistence.IsIllegalStepType(err),
		errors.Is(err, processes.ErrInvalidOutcome),
		errors.Is(err, processes.ErrNoInitialSteps),
		errors.Is(err, processes.ErrStepNotCompletable):
		return badRequest(c, err.Error())

	case persistence.IsConflict(err),
		persistence.IsStepAlreadyOpen(err),
		errors.Is(err, processes.ErrStepInProgress):
		return conflict(c, err.Error())

	default:
		return internalError(c, err)
	}
}
