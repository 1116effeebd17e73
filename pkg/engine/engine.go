// Package engine runs workflow graphs. A Coordinator walks the nodes of one execution in
// order, resolves each node's inputs from upstream outputs, applies condition skipping and
// the continue-on-error policy, and records every step in the execution's event log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgraph/pkg/graph"
	"github.com/dukex/flowgraph/pkg/log"
	"github.com/dukex/flowgraph/pkg/metrics"
	"github.com/dukex/flowgraph/pkg/models"
	"github.com/dukex/flowgraph/pkg/otelhelper"
	"github.com/dukex/flowgraph/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executors resolves the executor for a node type.
type Executors interface {
	Lookup(nodeType string) protocol.Executor
}

// EventLog is the append side of an execution's event stream.
type EventLog interface {
	Append(ctx context.Context, executionID string, event *models.LogEvent) error
}

// StatusRecorder persists the lifecycle transitions driven by the coordinator.
type StatusRecorder interface {
	MarkRunning(ctx context.Context, executionID string) error
	Complete(ctx context.Context, executionID string, outputs map[string]any) error
	Fail(ctx context.Context, executionID string, message string) error
}

// StatusReader reads the current status of an execution.
type StatusReader interface {
	Status(ctx context.Context, executionID string) (models.ExecutionStatus, error)
}

// ProgressFunc receives progress after each executed node.
type ProgressFunc func(ctx context.Context, progress models.Progress) error

// Run describes one execution.
type Run struct {
	ExecutionID string
	WorkflowID  string
	Workflow    *models.Workflow
	Inputs      map[string]any
	Variables   map[string]any
	Progress    ProgressFunc

	// DeferFailure marks the run as one attempt of a retried job. A failed attempt appends a
	// non-terminal execution_attempt_failed event and leaves the record alone; the caller
	// settles the final outcome with Fail.
	DeferFailure bool
}

// Coordinator executes runs. It holds no per-run state and is safe for concurrent use.
type Coordinator struct {
	executors Executors
	events    EventLog
	records   StatusRecorder
	statuses  StatusReader
	tracer    trace.Tracer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a coordinator. events and records may be nil, in which case events are
// dropped and status transitions are not persisted.
func New(executors Executors, events EventLog, records StatusRecorder, opts ...Option) *Coordinator {
	c := &Coordinator{
		executors: executors,
		events:    events,
		records:   records,
		tracer:    otelhelper.Noop(),
		logger:    log.WithModule("engine"),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// execution is the state of one in-flight run.
type execution struct {
	run     Run
	context *models.ExecutionContext
	nodes   map[string]*models.Node
	visited map[string]bool
	skipped map[string]bool
	logger  *slog.Logger
}

// Run executes the workflow and returns the outputs of every visited node, keyed by node id.
// On failure the execution is marked failed, an execution_failed event is appended and the
// error is returned unchanged, unless the run defers failure.
func (c *Coordinator) Run(ctx context.Context, run Run) (map[string]any, error) {
	if run.WorkflowID == "" && run.Workflow != nil {
		run.WorkflowID = run.Workflow.ID
	}

	state := &execution{
		run:     run,
		context: models.NewExecutionContext(run.ExecutionID, run.WorkflowID, run.Inputs, run.Variables),
		nodes:   make(map[string]*models.Node),
		visited: make(map[string]bool),
		skipped: make(map[string]bool),
		logger:  c.logger.With("execution_id", run.ExecutionID, "workflow_id", run.WorkflowID),
	}

	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "workflow.execute",
		attribute.String(otelhelper.ExecutionIDKey, run.ExecutionID),
		attribute.String(otelhelper.WorkflowIDKey, run.WorkflowID),
	)
	defer span.End()

	outputs, err := c.execute(ctx, state)
	if err != nil {
		otelhelper.SetError(span, err)

		if run.DeferFailure {
			return nil, c.attemptFailed(ctx, state, err)
		}

		return nil, c.fail(ctx, state, err)
	}

	return outputs, nil
}

func (c *Coordinator) execute(ctx context.Context, state *execution) (map[string]any, error) {
	workflow := state.run.Workflow
	if workflow == nil {
		return nil, ErrNoWorkflow
	}

	for _, node := range workflow.Nodes {
		if node != nil {
			state.nodes[node.ID] = node
		}
	}

	if c.records != nil {
		if err := c.records.MarkRunning(ctx, state.run.ExecutionID); err != nil {
			return nil, fmt.Errorf("failed to mark execution running: %w", err)
		}
	}

	if cycle := graph.DetectCycle(workflow.Nodes, workflow.Connections); len(cycle) > 0 {
		state.logger.WarnContext(ctx, "workflow graph contains a cycle, execution order is best effort", "cycle", cycle)
	}

	order := graph.Order(workflow.Nodes, workflow.Connections)

	state.logger.InfoContext(ctx, "executing workflow", "nodes", len(order))

	for _, nodeID := range order {
		if err := c.checkCancelled(ctx, state); err != nil {
			return nil, err
		}

		if err := c.visit(ctx, state, state.nodes[nodeID]); err != nil {
			return nil, err
		}
	}

	outputs := state.context.Outputs

	if c.records != nil {
		if err := c.records.Complete(ctx, state.run.ExecutionID, outputs); err != nil {
			return nil, fmt.Errorf("failed to mark execution completed: %w", err)
		}
	}

	if err := c.emit(ctx, state, &models.LogEvent{
		Type:    models.EventExecutionComplete,
		Message: "Workflow execution completed successfully",
		Data:    map[string]any{"outputs": outputs},
	}); err != nil {
		return nil, err
	}

	c.metrics.ExecutionFinished(string(models.ExecutionStatusCompleted))
	state.logger.InfoContext(ctx, "workflow execution completed")

	return outputs, nil
}

func (c *Coordinator) checkCancelled(ctx context.Context, state *execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.statuses == nil {
		return nil
	}

	status, err := c.statuses.Status(ctx, state.run.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to read execution status: %w", err)
	}

	if status == models.ExecutionStatusCancelled {
		return ErrCancelled
	}

	return nil
}

// Fail settles an execution whose last attempt failed: the record is marked failed, unless
// cause is ErrCancelled, and the terminal execution_failed event is appended. It returns cause.
func (c *Coordinator) Fail(ctx context.Context, executionID, workflowID string, cause error) error {
	return c.fail(ctx, &execution{
		run:    Run{ExecutionID: executionID, WorkflowID: workflowID},
		logger: c.logger.With("execution_id", executionID, "workflow_id", workflowID),
	}, cause)
}

func (c *Coordinator) attemptFailed(ctx context.Context, state *execution, cause error) error {
	ctx = context.WithoutCancel(ctx)
	message := cause.Error()

	state.logger.WarnContext(ctx, "workflow execution attempt failed", "error", cause)

	if err := c.emit(ctx, state, &models.LogEvent{
		Type:    models.EventExecutionAttemptFailed,
		Message: "Workflow execution attempt failed: " + message,
		Error:   message,
	}); err != nil {
		state.logger.ErrorContext(ctx, "failed to append execution_attempt_failed event", "error", err)
	}

	return cause
}

func (c *Coordinator) fail(ctx context.Context, state *execution, cause error) error {
	ctx = context.WithoutCancel(ctx)
	message := cause.Error()
	status := models.ExecutionStatusFailed

	if errors.Is(cause, ErrCancelled) {
		status = models.ExecutionStatusCancelled
	}

	state.logger.ErrorContext(ctx, "workflow execution failed", "error", cause)

	if c.records != nil && status == models.ExecutionStatusFailed {
		if err := c.records.Fail(ctx, state.run.ExecutionID, message); err != nil {
			state.logger.ErrorContext(ctx, "failed to mark execution failed", "error", err)
		}
	}

	if err := c.emit(ctx, state, &models.LogEvent{
		Type:    models.EventExecutionFailed,
		Message: "Workflow execution failed: " + message,
		Error:   message,
	}); err != nil {
		state.logger.ErrorContext(ctx, "failed to append execution_failed event", "error", err)
	}

	c.metrics.ExecutionFinished(string(status))

	return cause
}

func (c *Coordinator) emit(ctx context.Context, state *execution, event *models.LogEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}

	if c.events == nil {
		return nil
	}

	if err := c.events.Append(ctx, state.run.ExecutionID, event); err != nil {
		return fmt.Errorf("failed to append %s event: %w", event.Type, err)
	}

	return nil
}
