package models

import "time"

// EventType identifies a log event.
type EventType string

const (
	EventNodeStart         EventType = "node_start"
	EventNodeComplete      EventType = "node_complete"
	EventNodeError         EventType = "node_error"
	EventNodeSkipped       EventType = "node_skipped"
	EventNodeLog           EventType = "node_log"
	EventExecutionComplete EventType = "execution_complete"
	EventExecutionFailed   EventType = "execution_failed"

	// EventExecutionAttemptFailed records a failed attempt of a job that will be retried or
	// settled by its worker. It does not close the log.
	EventExecutionAttemptFailed EventType = "execution_attempt_failed"

	// EventSystem records operator actions such as a cancellation request.
	EventSystem EventType = "system"
)

// IsTerminal reports whether the event closes an execution log.
func (t EventType) IsTerminal() bool {
	return t == EventExecutionComplete || t == EventExecutionFailed
}

// LogEvent is one append-only entry of an execution log.
type LogEvent struct {
	ID        string         `json:"id,omitempty"`
	Type      EventType      `json:"type"`
	NodeID    string         `json:"nodeId,omitempty"`
	NodeName  string         `json:"nodeName,omitempty"`
	Level     string         `json:"level,omitempty"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}
