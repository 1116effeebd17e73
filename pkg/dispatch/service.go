// Package dispatch starts workflow executions. A synchronous start runs the coordinator on
// the caller's goroutine; an asynchronous start enqueues a job that a worker Pool runs with
// the same coordinator.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowgraph/pkg/engine"
	"github.com/dukex/flowgraph/pkg/eventbus"
	"github.com/dukex/flowgraph/pkg/events"
	"github.com/dukex/flowgraph/pkg/log"
	"github.com/dukex/flowgraph/pkg/metrics"
	"github.com/dukex/flowgraph/pkg/models"
	"github.com/dukex/flowgraph/pkg/persistence"
	"github.com/google/uuid"
)

const defaultResultRetention = 10 * time.Minute

// Enqueuer accepts asynchronous jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// Config wires a Service. Coordinator, Workflows and Executions are required.
type Config struct {
	Coordinator *engine.Coordinator
	Workflows   persistence.WorkflowStore
	Executions  persistence.ExecutionStore
	Events      engine.EventLog
	Queue       Enqueuer
	Bus         eventbus.EventPublisher
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	// ResultRetention is how long a synchronous result stays available to AwaitResult.
	ResultRetention time.Duration
}

// Service is the entry point for starting, awaiting and cancelling executions.
type Service struct {
	coordinator *engine.Coordinator
	workflows   persistence.WorkflowStore
	executions  persistence.ExecutionStore
	events      engine.EventLog
	queue       Enqueuer
	bus         eventbus.EventPublisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	retention   time.Duration

	mu      sync.Mutex
	results map[string]*result
}

type result struct {
	done    chan struct{}
	outputs map[string]any
	err     error
}

// StartRequest asks for one execution of a stored workflow.
type StartRequest struct {
	WorkflowID string
	Inputs     map[string]any
	Mode       models.ExecutionMode
	UserID     string
}

// StartResult reports the execution created by Start. Result holds the outputs of a
// completed synchronous run.
type StartResult struct {
	ExecutionID string                 `json:"executionId"`
	Status      models.ExecutionStatus `json:"status"`
	Result      map[string]any         `json:"result,omitempty"`
}

// NewService returns a Service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithModule("dispatch")
	}

	retention := cfg.ResultRetention
	if retention <= 0 {
		retention = defaultResultRetention
	}

	return &Service{
		coordinator: cfg.Coordinator,
		workflows:   cfg.Workflows,
		executions:  cfg.Executions,
		events:      cfg.Events,
		queue:       cfg.Queue,
		bus:         cfg.Bus,
		metrics:     cfg.Metrics,
		logger:      logger,
		retention:   retention,
		results:     make(map[string]*result),
	}
}

// Start creates the execution record and dispatches it. In sync mode it returns after the run
// finished; a failed run returns the StartResult together with the run error. Async is the
// default mode.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	mode := req.Mode
	if mode == "" {
		mode = models.ExecutionModeAsync
	}

	if mode != models.ExecutionModeSync && mode != models.ExecutionModeAsync {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	if mode == models.ExecutionModeAsync && s.queue == nil {
		return nil, ErrNoQueue
	}

	workflow, err := s.workflows.WorkflowByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}

	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}

	execution := &models.Execution{
		ID:         uuid.NewString(),
		WorkflowID: workflow.ID,
		Status:     models.ExecutionStatusPending,
		Mode:       mode,
		Inputs:     inputs,
		UserID:     userID,
	}

	if err := s.executions.CreateExecution(ctx, execution); err != nil {
		return nil, err
	}

	s.metrics.ExecutionStarted(string(mode))
	s.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent, workflow.ID, execution.ID),
		Mode:      string(mode),
		Inputs:    inputs,
	})

	logger := s.logger.With("execution_id", execution.ID, "workflow_id", workflow.ID, "mode", mode)

	job := &models.Job{
		ExecutionID: execution.ID,
		WorkflowID:  workflow.ID,
		Workflow:    workflow,
		Inputs:      inputs,
	}

	if mode == models.ExecutionModeAsync {
		if err := s.executions.MarkQueued(ctx, execution.ID); err != nil {
			return nil, err
		}

		if err := s.queue.Enqueue(ctx, job); err != nil {
			_ = s.executions.Fail(context.WithoutCancel(ctx), execution.ID, err.Error())

			return nil, err
		}

		logger.InfoContext(ctx, "execution queued")

		return &StartResult{ExecutionID: execution.ID, Status: models.ExecutionStatusQueued}, nil
	}

	pending := s.track(execution.ID)
	started := time.Now()

	outputs, runErr := s.RunJob(ctx, job)
	s.finish(ctx, job, outputs, runErr, 1, time.Since(started))
	s.settle(execution.ID, pending, outputs, runErr)

	if runErr != nil {
		logger.WarnContext(ctx, "synchronous execution failed", "error", runErr)

		return &StartResult{ExecutionID: execution.ID, Status: statusOf(runErr)}, runErr
	}

	return &StartResult{ExecutionID: execution.ID, Status: models.ExecutionStatusCompleted, Result: outputs}, nil
}

// RunJob runs a job once with the coordinator, recording progress in the execution record. A
// job whose execution was cancelled before the run returns engine.ErrCancelled without running.
func (s *Service) RunJob(ctx context.Context, job *models.Job) (map[string]any, error) {
	return s.run(ctx, job, false)
}

// runAttempt runs one attempt of a retried job. Its failure is settled by settleFailure.
func (s *Service) runAttempt(ctx context.Context, job *models.Job) (map[string]any, error) {
	return s.run(ctx, job, true)
}

// settleFailure closes the execution after the final failed attempt of a job.
func (s *Service) settleFailure(ctx context.Context, job *models.Job, cause error) {
	_ = s.coordinator.Fail(ctx, job.ExecutionID, job.WorkflowID, cause)
}

func (s *Service) run(ctx context.Context, job *models.Job, deferFailure bool) (map[string]any, error) {
	status, err := s.executions.Status(ctx, job.ExecutionID)
	if err != nil {
		return nil, err
	}

	if status == models.ExecutionStatusCancelled {
		return nil, engine.ErrCancelled
	}

	workflow := job.Workflow
	if workflow == nil {
		workflow, err = s.workflows.WorkflowByID(ctx, job.WorkflowID)
		if err != nil {
			return nil, err
		}
	}

	return s.coordinator.Run(ctx, engine.Run{
		ExecutionID: job.ExecutionID,
		WorkflowID:  job.WorkflowID,
		Workflow:    workflow,
		Inputs:      job.Inputs,
		Progress: func(ctx context.Context, progress models.Progress) error {
			return s.executions.SetProgress(ctx, job.ExecutionID, progress)
		},
		DeferFailure: deferFailure,
	})
}

// AwaitResult returns the outputs of a synchronous execution, waiting for it when it is still
// running in this process. Executions started in async mode fail with ErrNotSynchronous.
func (s *Service) AwaitResult(ctx context.Context, executionID string) (map[string]any, error) {
	s.mu.Lock()
	pending, ok := s.results[executionID]
	s.mu.Unlock()

	if ok {
		select {
		case <-pending.done:
			return pending.outputs, pending.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	execution, err := s.executions.Execution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Mode != models.ExecutionModeSync {
		return nil, ErrNotSynchronous
	}

	switch execution.Status {
	case models.ExecutionStatusCompleted:
		return execution.Outputs, nil
	case models.ExecutionStatusFailed:
		return nil, errors.New(execution.Error)
	case models.ExecutionStatusCancelled:
		return nil, engine.ErrCancelled
	default:
		return nil, fmt.Errorf("execution %s is %s in another process", executionID, execution.Status)
	}
}

// Cancel marks the execution cancelled. Coordinators stop before their next node when they
// check cancellation, and queued jobs never start.
func (s *Service) Cancel(ctx context.Context, executionID string) error {
	execution, err := s.executions.Execution(ctx, executionID)
	if err != nil {
		return err
	}

	if err := s.executions.Cancel(ctx, executionID); err != nil {
		return err
	}

	if s.events != nil {
		err := s.events.Append(ctx, executionID, &models.LogEvent{
			Type:      models.EventSystem,
			Message:   "Execution cancelled by user",
			Timestamp: time.Now(),
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to append cancellation event", "execution_id", executionID, "error", err)
		}
	}

	s.publish(ctx, executionID, events.ExecutionCancelled{
		BaseEvent: events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID, executionID),
	})

	s.logger.InfoContext(ctx, "execution cancelled", "execution_id", executionID)

	return nil
}

// finish publishes the terminal lifecycle notification of a run.
func (s *Service) finish(ctx context.Context, job *models.Job, outputs map[string]any, err error, attempts int, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)

	switch {
	case err == nil:
		s.publish(ctx, job.ExecutionID, events.ExecutionCompleted{
			BaseEvent: events.NewBaseEvent(events.ExecutionCompletedEvent, job.WorkflowID, job.ExecutionID),
			Outputs:   outputs,
			Duration:  elapsed,
		})
	case errors.Is(err, engine.ErrCancelled):
		// Cancel already announced it.
	default:
		s.publish(ctx, job.ExecutionID, events.ExecutionFailed{
			BaseEvent: events.NewBaseEvent(events.ExecutionFailedEvent, job.WorkflowID, job.ExecutionID),
			Error:     err.Error(),
			Attempts:  attempts,
			Duration:  elapsed,
		})
	}
}

func (s *Service) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.bus == nil {
		return
	}

	if err := s.bus.Publish(ctx, key, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish lifecycle event", "type", event.GetType(), "error", err)
	}
}

func (s *Service) track(executionID string) *result {
	pending := &result{done: make(chan struct{})}

	s.mu.Lock()
	s.results[executionID] = pending
	s.mu.Unlock()

	return pending
}

func (s *Service) settle(executionID string, pending *result, outputs map[string]any, err error) {
	pending.outputs = outputs
	pending.err = err
	close(pending.done)

	time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		delete(s.results, executionID)
		s.mu.Unlock()
	})
}

func statusOf(err error) models.ExecutionStatus {
	if errors.Is(err, engine.ErrCancelled) {
		return models.ExecutionStatusCancelled
	}

	return models.ExecutionStatusFailed
}
