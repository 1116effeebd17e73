package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/flowgraph/pkg/log"
	"github.com/dukex/flowgraph/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Redis keeps each execution log in a Redis stream and announces appends on a pub/sub
// channel.
type Redis struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedis returns a Redis backed stream.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{
		client: client,
		logger: log.WithModule("stream"),
	}
}

func (r *Redis) Append(ctx context.Context, executionID string, event *models.LogEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	values, err := encodeFields(event)
	if err != nil {
		return err
	}

	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: LogsKey(executionID),
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to append event to %s: %w", LogsKey(executionID), err)
	}

	event.ID = id

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := r.client.Publish(ctx, ChannelKey(executionID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

func (r *Redis) Range(ctx context.Context, executionID string, since string) ([]*models.LogEvent, error) {
	start := "-"
	if since != "" {
		start = since
	}

	messages, err := r.client.XRange(ctx, LogsKey(executionID), start, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", LogsKey(executionID), err)
	}

	events := make([]*models.LogEvent, 0, len(messages))

	for _, msg := range messages {
		if msg.ID == since {
			continue
		}

		events = append(events, decodeFields(msg))
	}

	return events, nil
}

// Subscribe listens on the execution channel before reading the stored prefix. Channel
// messages only wake the reader, which then reads the stream after the last delivered ID, so
// an event appended in between is delivered once and a slow reader loses nothing.
func (r *Redis) Subscribe(ctx context.Context, executionID string) (<-chan *models.LogEvent, error) {
	pubsub := r.client.Subscribe(ctx, ChannelKey(executionID))

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()

		return nil, fmt.Errorf("failed to subscribe to %s: %w", ChannelKey(executionID), err)
	}

	backlog, err := r.Range(ctx, executionID, "")
	if err != nil {
		_ = pubsub.Close()

		return nil, err
	}

	out := make(chan *models.LogEvent, subscriberBuffer)

	go func() {
		defer close(out)
		defer func() {
			_ = pubsub.Close()
		}()

		last := ""

		deliver := func(events []*models.LogEvent) bool {
			for _, event := range events {
				if !send(ctx, out, event) || event.Type.IsTerminal() {
					return false
				}

				last = event.ID
			}

			return true
		}

		if !deliver(backlog) {
			return
		}

		live := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-live:
				if !ok {
					return
				}

				events, err := r.Range(ctx, executionID, last)
				if err != nil {
					r.logger.WarnContext(ctx, "failed to read new events", "execution_id", executionID, "error", err)

					continue
				}

				if !deliver(events) {
					return
				}
			}
		}
	}()

	return out, nil
}

// AppendWorkflowLog appends a logger node entry to the durable log of its workflow.
func (r *Redis) AppendWorkflowLog(ctx context.Context, workflowID string, entry map[string]any) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: WorkflowLogsKey(workflowID),
		Values: map[string]any{
			"level":       fmt.Sprint(entry["level"]),
			"message":     fmt.Sprint(entry["message"]),
			"executionId": fmt.Sprint(entry["executionId"]),
			"nodeId":      fmt.Sprint(entry["nodeId"]),
			"timestamp":   strconv.FormatInt(time.Now().UnixMilli(), 10),
			"data":        string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", WorkflowLogsKey(workflowID), err)
	}

	return nil
}

// WorkflowLogs returns the most recent logger entries of a workflow, newest first.
func (r *Redis) WorkflowLogs(ctx context.Context, workflowID string, limit int64) ([]map[string]any, error) {
	messages, err := r.client.XRevRangeN(ctx, WorkflowLogsKey(workflowID), "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", WorkflowLogsKey(workflowID), err)
	}

	entries := make([]map[string]any, 0, len(messages))

	for _, msg := range messages {
		entry := map[string]any{}

		if raw, ok := msg.Values["data"].(string); ok {
			_ = json.Unmarshal([]byte(raw), &entry)
		}

		entry["id"] = msg.ID
		entries = append(entries, entry)
	}

	return entries, nil
}

func encodeFields(event *models.LogEvent) (map[string]any, error) {
	values := map[string]any{
		"type":      string(event.Type),
		"message":   event.Message,
		"timestamp": strconv.FormatInt(event.Timestamp.UnixMilli(), 10),
	}

	optional := map[string]string{
		"nodeId":   event.NodeID,
		"nodeName": event.NodeName,
		"level":    event.Level,
		"error":    event.Error,
	}

	for k, v := range optional {
		if v != "" {
			values[k] = v
		}
	}

	if event.Data != nil {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event data: %w", err)
		}

		values["data"] = string(data)
	}

	return values, nil
}

func decodeFields(msg redis.XMessage) *models.LogEvent {
	field := func(key string) string {
		s, _ := msg.Values[key].(string)

		return s
	}

	event := &models.LogEvent{
		ID:       msg.ID,
		Type:     models.EventType(field("type")),
		NodeID:   field("nodeId"),
		NodeName: field("nodeName"),
		Level:    field("level"),
		Message:  field("message"),
		Error:    field("error"),
	}

	if ms, err := strconv.ParseInt(field("timestamp"), 10, 64); err == nil {
		event.Timestamp = time.UnixMilli(ms).UTC()
	}

	if raw := field("data"); raw != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			event.Data = data
		}
	}

	return event
}
