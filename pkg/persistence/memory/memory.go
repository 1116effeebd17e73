// Package memory holds workflows and execution records in process memory. It backs single
// binary runs of the CLI and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dukex/flowgraph/pkg/models"
	"github.com/dukex/flowgraph/pkg/persistence"
)

// Store implements persistence.WorkflowStore and persistence.ExecutionStore.
type Store struct {
	mu         sync.RWMutex
	workflows  map[string][]byte
	executions map[string]*models.Execution
	byWorkflow map[string][]string
	now        func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		workflows:  make(map[string][]byte),
		executions: make(map[string]*models.Execution),
		byWorkflow: make(map[string][]string),
		now:        time.Now,
	}
}

func (s *Store) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	body, ok := s.workflows[id]
	s.mu.RUnlock()

	if !ok {
		return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(body, &workflow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}

	return &workflow, nil
}

// SaveWorkflow stores a copy of the workflow.
func (s *Store) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	if workflow == nil || workflow.ID == "" {
		return persistence.NewWorkflowError("SaveWorkflow", "", persistence.ErrInvalidWorkflow)
	}

	body, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	s.mu.Lock()
	s.workflows[workflow.ID] = body
	s.mu.Unlock()

	return nil
}

func (s *Store) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.workflows, id)
	s.mu.Unlock()

	return nil
}

func (s *Store) HealthCheck(_ context.Context) error { return nil }

func (s *Store) Close(_ context.Context) error { return nil }

func (s *Store) CreateExecution(_ context.Context, execution *models.Execution) error {
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = s.now().UTC()
	}

	if execution.Status == "" {
		execution.Status = models.ExecutionStatusPending
	}

	record := *execution

	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[execution.ID] = &record
	s.byWorkflow[execution.WorkflowID] = append(s.byWorkflow[execution.WorkflowID], execution.ID)

	return nil
}

// Execution returns a copy of the record.
func (s *Store) Execution(_ context.Context, id string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.executions[id]
	if !ok {
		return nil, persistence.NewExecutionError("Execution", id, persistence.ErrExecutionNotFound)
	}

	out := *record

	return &out, nil
}

func (s *Store) WorkflowExecutions(ctx context.Context, workflowID string, limit int64) ([]*models.Execution, error) {
	s.mu.RLock()
	ids := append([]string(nil), s.byWorkflow[workflowID]...)
	s.mu.RUnlock()

	executions := make([]*models.Execution, 0, len(ids))

	for i := len(ids) - 1; i >= 0 && (limit <= 0 || int64(len(executions)) < limit); i-- {
		execution, err := s.Execution(ctx, ids[i])
		if err != nil {
			continue
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

func (s *Store) Status(_ context.Context, id string) (models.ExecutionStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.executions[id]
	if !ok {
		return "", persistence.NewExecutionError("Status", id, persistence.ErrExecutionNotFound)
	}

	return record.Status, nil
}

func (s *Store) MarkQueued(_ context.Context, id string) error {
	return s.update("MarkQueued", id, func(record *models.Execution) error {
		if record.Status != models.ExecutionStatusCancelled {
			record.Status = models.ExecutionStatusQueued
		}

		return nil
	})
}

func (s *Store) MarkRunning(_ context.Context, id string) error {
	return s.update("MarkRunning", id, func(record *models.Execution) error {
		if record.Status != models.ExecutionStatusCancelled {
			now := s.now().UTC()
			record.Status = models.ExecutionStatusRunning
			record.StartedAt = &now
		}

		return nil
	})
}

func (s *Store) Complete(_ context.Context, id string, outputs map[string]any) error {
	return s.update("Complete", id, func(record *models.Execution) error {
		if record.Status != models.ExecutionStatusCancelled {
			now := s.now().UTC()
			record.Status = models.ExecutionStatusCompleted
			record.CompletedAt = &now
			record.Outputs = outputs
		}

		return nil
	})
}

func (s *Store) Fail(_ context.Context, id string, message string) error {
	return s.update("Fail", id, func(record *models.Execution) error {
		if record.Status != models.ExecutionStatusCancelled {
			now := s.now().UTC()
			record.Status = models.ExecutionStatusFailed
			record.FailedAt = &now
			record.Error = message
		}

		return nil
	})
}

func (s *Store) Cancel(_ context.Context, id string) error {
	return s.update("Cancel", id, func(record *models.Execution) error {
		if record.Status.IsTerminal() {
			return persistence.ErrExecutionFinished
		}

		now := s.now().UTC()
		record.Status = models.ExecutionStatusCancelled
		record.CancelledAt = &now

		return nil
	})
}

func (s *Store) SetProgress(_ context.Context, id string, progress models.Progress) error {
	return s.update("SetProgress", id, func(record *models.Execution) error {
		record.Progress = &progress

		return nil
	})
}

func (s *Store) IncrementAttempts(_ context.Context, id string) (int, error) {
	var attempts int

	err := s.update("IncrementAttempts", id, func(record *models.Execution) error {
		record.Attempts++
		attempts = record.Attempts

		return nil
	})

	return attempts, err
}

func (s *Store) update(op, id string, apply func(record *models.Execution) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.executions[id]
	if !ok {
		return persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
	}

	if err := apply(record); err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	return nil
}
