package engine

import (
	"log/slog"
	"time"

	"github.com/dukex/flowgraph/pkg/metrics"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithTracer records a span per run and per node.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = tracer
	}
}

// WithMetrics records execution outcomes and node latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithCancellationCheck makes the coordinator read the execution status before each node
// and stop with ErrCancelled once it is cancelled.
func WithCancellationCheck(reader StatusReader) Option {
	return func(c *Coordinator) {
		c.statuses = reader
	}
}

// WithClock overrides the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}
