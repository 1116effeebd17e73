// Package persistence provides the storage abstraction for workflow definitions and
// execution records.
package persistence

import (
	"context"

	"github.com/dukex/flowgraph/pkg/models"
)

// WorkflowStore loads and stores workflow definitions. WorkflowByID returns an error
// matching ErrWorkflowNotFound when no workflow has the id.
type WorkflowStore interface {
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// ExecutionStore keeps the lifecycle record of each execution.
//
// A cancelled execution stays cancelled: MarkRunning, Complete and Fail leave it untouched.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, execution *models.Execution) error
	Execution(ctx context.Context, id string) (*models.Execution, error)
	WorkflowExecutions(ctx context.Context, workflowID string, limit int64) ([]*models.Execution, error)

	Status(ctx context.Context, id string) (models.ExecutionStatus, error)
	MarkQueued(ctx context.Context, id string) error
	MarkRunning(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, outputs map[string]any) error
	Fail(ctx context.Context, id string, message string) error

	// Cancel marks a non-terminal execution cancelled. It fails with ErrExecutionFinished
	// when the execution already reached a terminal status.
	Cancel(ctx context.Context, id string) error

	SetProgress(ctx context.Context, id string, progress models.Progress) error
	IncrementAttempts(ctx context.Context, id string) (int, error)
}
