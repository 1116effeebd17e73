// Package redisstore keeps workflow definitions and execution records in Redis.
//
// Keys:
//
//	workflow:<id>                  workflow JSON document
//	execution:<id>                 execution record hash
//	executions:<workflowId>        stream of executions started for a workflow
//	metrics:workflow:<id>:executions
//	metrics:executions:daily:<YYYY-MM-DD>
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/flowgraph/pkg/models"
	"github.com/dukex/flowgraph/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

// Workflows implements persistence.WorkflowStore.
type Workflows struct {
	client redis.UniversalClient
	owned  bool
}

// NewWorkflows returns a workflow store using client. The caller keeps ownership of client.
func NewWorkflows(client redis.UniversalClient) *Workflows {
	return &Workflows{client: client}
}

// Open connects to the Redis server at url and returns a store that closes the connection on
// Close.
func Open(url string) (*Workflows, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &Workflows{client: redis.NewClient(opts), owned: true}, nil
}

func workflowKey(id string) string {
	return "workflow:" + id
}

func (w *Workflows) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	body, err := w.client.Get(ctx, workflowKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	var workflow models.Workflow

	if err := json.Unmarshal(body, &workflow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}

	return &workflow, nil
}

func (w *Workflows) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if workflow == nil || workflow.ID == "" {
		return persistence.NewWorkflowError("SaveWorkflow", "", persistence.ErrInvalidWorkflow)
	}

	body, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	if err := w.client.Set(ctx, workflowKey(workflow.ID), body, 0).Err(); err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	return nil
}

func (w *Workflows) DeleteWorkflow(ctx context.Context, id string) error {
	if err := w.client.Del(ctx, workflowKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

func (w *Workflows) HealthCheck(ctx context.Context) error {
	if err := w.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (w *Workflows) Close(_ context.Context) error {
	if !w.owned {
		return nil
	}

	return w.client.Close()
}
