package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/flowgraph/pkg/eventbus"
	"github.com/dukex/flowgraph/pkg/events"
)

var lifecycleEvents = []events.EventType{
	events.ExecutionStartedEvent,
	events.ExecutionCompletedEvent,
	events.ExecutionFailedEvent,
	events.ExecutionCancelledEvent,
	events.ExecutionRetriedEvent,
}

// LogLifecycle subscribes to bus and logs every execution lifecycle notification.
func LogLifecycle(ctx context.Context, bus eventbus.EventSubscriber, logger *slog.Logger) error {
	for _, eventType := range lifecycleEvents {
		err := bus.Handle(eventType, func(ctx context.Context, event any) error {
			logger.InfoContext(ctx, "Execution lifecycle event", "type", eventType, "event", event)

			return nil
		})
		if err != nil {
			return err
		}
	}

	return bus.Subscribe(ctx)
}
