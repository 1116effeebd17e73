package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/flowgraph/pkg/models"
	"github.com/dukex/flowgraph/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const (
	dailyMetricsTTL    = 7 * 24 * time.Hour
	transitionAttempts = 5
)

// Executions implements persistence.ExecutionStore on Redis hashes.
type Executions struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewExecutions returns an execution store using client.
func NewExecutions(client redis.UniversalClient) *Executions {
	return &Executions{client: client, now: time.Now}
}

func executionKey(id string) string {
	return "execution:" + id
}

// ExecutionsKey is the stream of executions started for a workflow.
func ExecutionsKey(workflowID string) string {
	return "executions:" + workflowID
}

// CreateExecution stores the record, appends it to the workflow's execution stream and bumps
// the execution counters.
func (e *Executions) CreateExecution(ctx context.Context, execution *models.Execution) error {
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = e.now().UTC()
	}

	if execution.Status == "" {
		execution.Status = models.ExecutionStatusPending
	}

	values, err := encodeExecution(execution)
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	today := execution.CreatedAt.Format(time.DateOnly)
	dailyKey := "metrics:executions:daily:" + today

	_, err = e.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, executionKey(execution.ID), values)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: ExecutionsKey(execution.WorkflowID),
			Values: map[string]any{
				"executionId": execution.ID,
				"status":      "started",
				"timestamp":   strconv.FormatInt(execution.CreatedAt.UnixMilli(), 10),
			},
		})
		pipe.Incr(ctx, "metrics:workflow:"+execution.WorkflowID+":executions")
		pipe.Incr(ctx, dailyKey)
		pipe.Expire(ctx, dailyKey, dailyMetricsTTL)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", execution.ID, err)
	}

	return nil
}

func (e *Executions) Execution(ctx context.Context, id string) (*models.Execution, error) {
	values, err := e.client.HGetAll(ctx, executionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch execution %s: %w", id, err)
	}

	if len(values) == 0 {
		return nil, persistence.NewExecutionError("Execution", id, persistence.ErrExecutionNotFound)
	}

	return decodeExecution(id, values), nil
}

// WorkflowExecutions returns the most recent executions of a workflow, newest first.
// Records that no longer exist are left out.
func (e *Executions) WorkflowExecutions(ctx context.Context, workflowID string, limit int64) ([]*models.Execution, error) {
	entries, err := e.client.XRevRangeN(ctx, ExecutionsKey(workflowID), "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read executions of workflow %s: %w", workflowID, err)
	}

	executions := make([]*models.Execution, 0, len(entries))

	for _, entry := range entries {
		id, _ := entry.Values["executionId"].(string)

		execution, err := e.Execution(ctx, id)
		if persistence.IsExecutionNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

func (e *Executions) Status(ctx context.Context, id string) (models.ExecutionStatus, error) {
	status, err := e.client.HGet(ctx, executionKey(id), "status").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", persistence.NewExecutionError("Status", id, persistence.ErrExecutionNotFound)
		}

		return "", fmt.Errorf("failed to read status of execution %s: %w", id, err)
	}

	return models.ExecutionStatus(status), nil
}

func (e *Executions) MarkQueued(ctx context.Context, id string) error {
	return e.transition(ctx, "MarkQueued", id, notCancelled, map[string]any{
		"status": string(models.ExecutionStatusQueued),
	})
}

func (e *Executions) MarkRunning(ctx context.Context, id string) error {
	return e.transition(ctx, "MarkRunning", id, notCancelled, map[string]any{
		"status":    string(models.ExecutionStatusRunning),
		"startedAt": formatTime(e.now()),
	})
}

func (e *Executions) Complete(ctx context.Context, id string, outputs map[string]any) error {
	encoded, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("failed to encode outputs of execution %s: %w", id, err)
	}

	return e.transition(ctx, "Complete", id, notCancelled, map[string]any{
		"status":      string(models.ExecutionStatusCompleted),
		"completedAt": formatTime(e.now()),
		"outputs":     string(encoded),
	})
}

func (e *Executions) Fail(ctx context.Context, id string, message string) error {
	return e.transition(ctx, "Fail", id, notCancelled, map[string]any{
		"status":   string(models.ExecutionStatusFailed),
		"failedAt": formatTime(e.now()),
		"error":    message,
	})
}

func (e *Executions) Cancel(ctx context.Context, id string) error {
	return e.transition(ctx, "Cancel", id, notTerminal, map[string]any{
		"status":      string(models.ExecutionStatusCancelled),
		"cancelledAt": formatTime(e.now()),
	})
}

func (e *Executions) SetProgress(ctx context.Context, id string, progress models.Progress) error {
	encoded, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	if err := e.client.HSet(ctx, executionKey(id), "progress", string(encoded)).Err(); err != nil {
		return fmt.Errorf("failed to store progress of execution %s: %w", id, err)
	}

	return nil
}

func (e *Executions) IncrementAttempts(ctx context.Context, id string) (int, error) {
	attempts, err := e.client.HIncrBy(ctx, executionKey(id), "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count attempt of execution %s: %w", id, err)
	}

	return int(attempts), nil
}

type guard func(status models.ExecutionStatus) (apply bool, err error)

func notCancelled(status models.ExecutionStatus) (bool, error) {
	return status != models.ExecutionStatusCancelled, nil
}

func notTerminal(status models.ExecutionStatus) (bool, error) {
	if status.IsTerminal() {
		return false, persistence.ErrExecutionFinished
	}

	return true, nil
}

// transition writes values when the guard accepts the current status. The status read and the
// write happen in one optimistic transaction on the record key.
func (e *Executions) transition(ctx context.Context, op, id string, accept guard, values map[string]any) error {
	key := executionKey(id)

	update := func(tx *redis.Tx) error {
		status, err := tx.HGet(ctx, key, "status").Result()
		if errors.Is(err, redis.Nil) {
			return persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
		}

		if err != nil {
			return err
		}

		apply, err := accept(models.ExecutionStatus(status))
		if err != nil {
			return persistence.NewExecutionError(op, id, err)
		}

		if !apply {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, values)

			return nil
		})

		return err
	}

	var err error

	for range transitionAttempts {
		err = e.client.Watch(ctx, update, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}

	if err != nil {
		var execErr *persistence.ExecutionError
		if errors.As(err, &execErr) {
			return err
		}

		return fmt.Errorf("failed to update execution %s: %w", id, err)
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeExecution(execution *models.Execution) (map[string]any, error) {
	values := map[string]any{
		"id":         execution.ID,
		"workflowId": execution.WorkflowID,
		"status":     string(execution.Status),
		"mode":       string(execution.Mode),
		"createdAt":  formatTime(execution.CreatedAt),
		"attempts":   execution.Attempts,
	}

	if execution.UserID != "" {
		values["userId"] = execution.UserID
	}

	if execution.Inputs != nil {
		encoded, err := json.Marshal(execution.Inputs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode inputs: %w", err)
		}

		values["inputs"] = string(encoded)
	}

	return values, nil
}

func decodeExecution(id string, values map[string]string) *models.Execution {
	execution := &models.Execution{
		ID:         id,
		WorkflowID: values["workflowId"],
		Status:     models.ExecutionStatus(values["status"]),
		Mode:       models.ExecutionMode(values["mode"]),
		Error:      values["error"],
		UserID:     values["userId"],
	}

	execution.Attempts, _ = strconv.Atoi(values["attempts"])

	if raw := values["inputs"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &execution.Inputs)
	}

	if raw := values["outputs"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &execution.Outputs)
	}

	if raw := values["progress"]; raw != "" {
		var progress models.Progress
		if err := json.Unmarshal([]byte(raw), &progress); err == nil {
			execution.Progress = &progress
		}
	}

	if t := parseTime(values["createdAt"]); t != nil {
		execution.CreatedAt = *t
	}

	execution.StartedAt = parseTime(values["startedAt"])
	execution.CompletedAt = parseTime(values["completedAt"])
	execution.FailedAt = parseTime(values["failedAt"])
	execution.CancelledAt = parseTime(values["cancelledAt"])

	return execution
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}

	return &t
}
