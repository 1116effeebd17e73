// Package stream stores the append-only event log of each execution and fans it out to live
// subscribers.
package stream

import (
	"context"

	"github.com/dukex/flowgraph/pkg/models"
)

// Stream is an execution event log. Append is called by the single coordinator running an
// execution; any number of readers may Range or Subscribe.
type Stream interface {
	// Append stores the event and notifies subscribers. The event's ID is set on return.
	Append(ctx context.Context, executionID string, event *models.LogEvent) error

	// Range returns the events appended after the event with id since, or all events when
	// since is empty.
	Range(ctx context.Context, executionID string, since string) ([]*models.LogEvent, error)

	// Subscribe delivers every event of the execution, starting with those already appended,
	// without duplicates. The channel is closed after a terminal event or when ctx is done.
	Subscribe(ctx context.Context, executionID string) (<-chan *models.LogEvent, error)
}

const subscriberBuffer = 64

// LogsKey is the Redis stream holding an execution's events.
func LogsKey(executionID string) string {
	return "execution:" + executionID + ":logs"
}

// ChannelKey is the pub/sub channel notified on each appended event.
func ChannelKey(executionID string) string {
	return "execution:" + executionID + ":log"
}

// WorkflowLogsKey is the Redis stream holding the durable entries of a workflow's logger
// nodes.
func WorkflowLogsKey(workflowID string) string {
	return "workflow:" + workflowID + ":logs"
}

func send(ctx context.Context, out chan<- *models.LogEvent, event *models.LogEvent) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
