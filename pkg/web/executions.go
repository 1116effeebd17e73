package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowgraph/pkg/dispatch"
	"github.com/dukex/flowgraph/pkg/models"
	"github.com/gofiber/fiber/v3"
)

var errUnknownEvent = errors.New("unknown event id in since")

// ExecuteWorkflow starts an execution. Sync requests answer with the run's outputs; a failed
// sync run answers with a problem and names the execution in the X-Execution-Id header.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req ExecuteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	userID := c.Get(userIDHeader)
	if userID == "" {
		userID = anonymousUserID
	}

	started, err := h.service.Start(c.Context(), dispatch.StartRequest{
		WorkflowID: req.WorkflowID,
		Inputs:     req.Inputs,
		Mode:       models.ExecutionMode(req.Mode),
		UserID:     userID,
	})
	if err != nil {
		if started != nil {
			c.Set("X-Execution-Id", started.ExecutionID)
		}

		return handleServiceError(c, err)
	}

	response := ExecuteResponse{
		ExecutionID: started.ExecutionID,
		Status:      started.Status,
		Result:      started.Result,
	}
	if started.Status == models.ExecutionStatusQueued {
		response.Message = "Workflow execution queued"
	}

	return c.JSON(response)
}

// GetExecution returns the record together with every logged event.
func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")

	execution, err := h.executions.Execution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	logs, err := h.stream.Range(c.Context(), id, "")
	if err != nil {
		return internalError(c, err)
	}

	if logs == nil {
		logs = []*models.LogEvent{}
	}

	return c.JSON(ExecutionResponse{Execution: execution, Logs: logs})
}

func (h *APIHandlers) GetExecutionResult(c fiber.Ctx) error {
	id := c.Params("id")

	outputs, err := h.service.AwaitResult(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ResultResponse{ExecutionID: id, Result: outputs})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	if err := h.service.Cancel(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(MessageResponse{Message: "Execution cancelled"})
}

// GetWorkflowExecutions lists the newest executions of a workflow.
func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	limit, err := queryLimit(c, defaultListLimit)
	if err != nil {
		return badRequest(c, "Invalid limit: "+err.Error())
	}

	executions, err := h.executions.WorkflowExecutions(c.Context(), c.Params("workflowId"), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	if executions == nil {
		executions = []*models.Execution{}
	}

	return c.JSON(executions)
}

// StreamExecutionLogs serves the execution's events as server-sent events: first the logged
// backlog after the optional since id, then live events until a terminal event.
func (h *APIHandlers) StreamExecutionLogs(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.executions.Status(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	skip, err := h.seen(c.Context(), id, c.Query("since"))
	if errors.Is(err, errUnknownEvent) {
		return badRequest(c, err.Error())
	}

	if err != nil {
		return internalError(c, err)
	}

	// The body is written after the handler returns, so the subscription must outlive the
	// request context.
	ctx, cancel := context.WithCancel(context.Background())

	events, err := h.stream.Subscribe(ctx, id)
	if err != nil {
		cancel()

		return internalError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.RequestCtx().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		h.pump(ctx, w, events, skip)
	})

	return nil
}

// seen returns the ids of the events up to and including since. It fails with
// errUnknownEvent when since is not in the log.
func (h *APIHandlers) seen(ctx context.Context, executionID, since string) (map[string]struct{}, error) {
	skip := map[string]struct{}{}
	if since == "" {
		return skip, nil
	}

	all, err := h.stream.Range(ctx, executionID, "")
	if err != nil {
		return nil, err
	}

	for _, event := range all {
		skip[event.ID] = struct{}{}

		if event.ID == since {
			return skip, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", errUnknownEvent, since)
}

func (h *APIHandlers) pump(ctx context.Context, w *bufio.Writer, events <-chan *models.LogEvent, skip map[string]struct{}) {
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}

			if _, done := skip[event.ID]; done {
				continue
			}

			if err := writeEvent(w, event); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
				return
			}

			if err := w.Flush(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(w *bufio.Writer, event *models.LogEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, payload); err != nil {
		return err
	}

	return w.Flush()
}
