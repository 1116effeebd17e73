// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowgraph/pkg/nodes/logger"
	"github.com/dukex/flowgraph/pkg/otelhelper"
	"github.com/dukex/flowgraph/pkg/registry"
	"github.com/dukex/flowgraph/pkg/script"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const defaultHTTPTimeout = 5 * time.Minute

// NewRegistry returns the registry of built-in executors.
func NewRegistry(log *slog.Logger, client redis.UniversalClient, workflowLog logger.WorkflowLog, scriptTimeout time.Duration) *registry.Registry {
	reg := registry.Default(registry.Dependencies{
		Redis:       client,
		HTTPClient:  &http.Client{Timeout: defaultHTTPTimeout},
		Scripts:     script.NewHost(scriptTimeout),
		WorkflowLog: workflowLog,
	})

	log.Info("Registered node executors", "types", reg.Types())

	return reg
}

// NewTracer returns an OTLP tracer for serviceName, or a no-op tracer when disabled.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, log *slog.Logger, enabled bool, serviceName string) trace.Tracer {
	if !enabled {
		return otelhelper.Noop()
	}

	tracer, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize tracer, tracing disabled", "error", err)

		return otelhelper.Noop()
	}

	return tracer
}
