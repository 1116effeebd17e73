// Package web provides the HTTP API for starting and observing workflow executions.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/flowgraph/pkg/dispatch"
	"github.com/dukex/flowgraph/pkg/models"
	"github.com/dukex/flowgraph/pkg/persistence"
	"github.com/dukex/flowgraph/pkg/registry"
	"github.com/dukex/flowgraph/pkg/stream"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const (
	defaultListLimit  = 20
	defaultKeepAlive  = 15 * time.Second
	defaultLogsLimit  = 100
	anonymousUserID   = "anonymous"
	userIDHeader      = "X-User-Id"
	healthyStatus     = "healthy"
	unhealthyStatus   = "unhealthy"
	healthCheckPassed = "ok"
)

// WorkflowLogReader reads the durable entries written by logger nodes.
type WorkflowLogReader interface {
	WorkflowLogs(ctx context.Context, workflowID string, limit int64) ([]map[string]any, error)
}

// Dependencies are the collaborators of the API handlers. WorkflowLogs is optional.
type Dependencies struct {
	Service      *dispatch.Service
	Workflows    persistence.WorkflowStore
	Executions   persistence.ExecutionStore
	Stream       stream.Stream
	WorkflowLogs WorkflowLogReader
	Registry     *registry.Registry
	Validator    *validator.Validate

	// KeepAlive is the interval of comment frames on idle event streams.
	KeepAlive time.Duration
}

type APIHandlers struct {
	service      *dispatch.Service
	workflows    persistence.WorkflowStore
	executions   persistence.ExecutionStore
	stream       stream.Stream
	workflowLogs WorkflowLogReader
	registry     *registry.Registry
	validator    *validator.Validate
	keepAlive    time.Duration
}

func NewAPIHandlers(deps Dependencies) *APIHandlers {
	v := deps.Validator
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}

	keepAlive := deps.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}

	return &APIHandlers{
		service:      deps.Service,
		workflows:    deps.Workflows,
		executions:   deps.Executions,
		stream:       deps.Stream,
		workflowLogs: deps.WorkflowLogs,
		registry:     deps.Registry,
		validator:    v,
		keepAlive:    keepAlive,
	}
}

// Register mounts every route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	e := router.Group("/executions")
	e.Post("/", h.ExecuteWorkflow)
	e.Get("/workflow/:workflowId", h.GetWorkflowExecutions)
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/result", h.GetExecutionResult)
	e.Get("/:id/logs", h.StreamExecutionLogs)
	e.Post("/:id/cancel", h.CancelExecution)

	w := router.Group("/workflows")
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.SaveWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Get("/:id/logs", h.GetWorkflowLogs)

	n := router.Group("/node-types")
	n.Get("/", h.GetNodeTypes)
	n.Post("/:type/validate", h.ValidateNodeConfig)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflows.WorkflowByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// SaveWorkflow stores the definition in the body under the id of the path.
func (h *APIHandlers) SaveWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var workflow models.Workflow
	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	workflow.ID = id
	if workflow.Connections == nil {
		workflow.Connections = []*models.Connection{}
	}

	if err := h.validator.Struct(workflow); err != nil {
		return badRequest(c, err.Error())
	}

	for _, node := range workflow.Nodes {
		if !h.registry.Has(node.Type) {
			continue
		}

		if err := h.registry.ValidateConfig(node.Type, node.Config); err != nil {
			return handleServiceError(c, err)
		}
	}

	if err := h.workflows.SaveWorkflow(c.Context(), &workflow); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.workflows.DeleteWorkflow(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GetWorkflowLogs returns the newest entries written by the workflow's logger nodes.
func (h *APIHandlers) GetWorkflowLogs(c fiber.Ctx) error {
	if h.workflowLogs == nil {
		return c.JSON([]map[string]any{})
	}

	limit, err := queryLimit(c, defaultLogsLimit)
	if err != nil {
		return badRequest(c, "Invalid limit: "+err.Error())
	}

	entries, err := h.workflowLogs.WorkflowLogs(c.Context(), c.Params("id"), limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(entries)
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	executors := h.registry.Executors()
	types := make([]NodeTypeResponse, 0, len(executors))

	for _, executor := range executors {
		types = append(types, NodeTypeResponse{
			Type:        executor.Type(),
			Name:        executor.Name(),
			Description: executor.Description(),
			Schema:      executor.Schema(),
		})
	}

	return c.JSON(types)
}

func (h *APIHandlers) ValidateNodeConfig(c fiber.Ctx) error {
	var req ValidateConfigRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.registry.ValidateConfig(c.Params("type"), req.Config); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ValidateConfigResponse{Valid: true})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck := healthCheckPassed
	if err := h.workflows.HealthCheck(c.Context()); err != nil {
		repositoryCheck = err.Error()
	}

	registryCheck := healthCheckPassed
	if len(h.registry.Types()) == 0 {
		registryCheck = "no node types registered"
	}

	status := unhealthyStatus
	message := "Flowgraph API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repositoryCheck == healthCheckPassed && registryCheck == healthCheckPassed {
		status = healthyStatus
		message = "Flowgraph API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func queryLimit(c fiber.Ctx, fallback int64) (int64, error) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, nil
	}

	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}

	if limit <= 0 {
		return fallback, nil
	}

	return limit, nil
}
