package web

import (
	"errors"

	"github.com/dukex/flowgraph/pkg/dispatch"
	"github.com/dukex/flowgraph/pkg/engine"
	"github.com/dukex/flowgraph/pkg/persistence"
	"github.com/dukex/flowgraph/pkg/registry"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusConflict).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps store, dispatch and registry errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	var verr *registry.ValidationError

	switch {
	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow_not_found", "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution_not_found", "execution not found")

	case errors.Is(err, registry.ErrUnknownType):
		return notFound(c, "node_type_not_found", err.Error())

	case persistence.IsExecutionFinished(err):
		return conflict(c, "execution already finished")

	case errors.Is(err, dispatch.ErrNotSynchronous):
		return conflict(c, err.Error())

	case errors.Is(err, dispatch.ErrInvalidMode),
		errors.Is(err, persistence.ErrInvalidWorkflow):
		return badRequest(c, err.Error())

	case errors.As(err, &verr):
		problem := problems.NewStatusProblem(fiber.StatusBadRequest).
			WithInstance(c.Path()).
			WithType("invalid_config").
			WithDetail(verr.Error())

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"type":     problem.Type,
			"title":    problem.Title,
			"status":   problem.Status,
			"detail":   problem.Detail,
			"instance": problem.Instance,
			"errors":   verr.Errors,
		})

	case errors.Is(err, dispatch.ErrNoQueue):
		problem := problems.NewStatusProblem(fiber.StatusServiceUnavailable).
			WithInstance(c.Path()).
			WithType("queue_unavailable").
			WithDetail(err.Error())

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	case errors.Is(err, engine.ErrCancelled):
		return conflict(c, "execution was cancelled")

	default:
		return internalError(c, err)
	}
}
