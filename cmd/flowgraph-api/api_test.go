package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/flowgraph/pkg/cmd"
	"github.com/dukex/flowgraph/pkg/dispatch"
	"github.com/dukex/flowgraph/pkg/engine"
	"github.com/dukex/flowgraph/pkg/persistence/redisstore"
	"github.com/dukex/flowgraph/pkg/stream"
	"github.com/dukex/flowgraph/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	workflows := redisstore.NewWorkflows(client)
	executions := redisstore.NewExecutions(client)
	eventLog := stream.NewRedis(client)
	registry := cmd.NewRegistry(slog.Default(), client, eventLog, 0)
	metrics, metricsHandler := cmd.NewMetrics()

	service := dispatch.NewService(dispatch.Config{
		Coordinator: engine.New(registry, eventLog, executions, engine.WithMetrics(metrics)),
		Workflows:   workflows,
		Executions:  executions,
		Events:      eventLog,
		Queue:       dispatch.NewQueue(client, ""),
		Metrics:     metrics,
	})

	api := NewAPI(slog.Default(), web.NewAPIHandlers(web.Dependencies{
		Service:    service,
		Workflows:  workflows,
		Executions: executions,
		Stream:     eventLog,
		Registry:   registry,
	}), metricsHandler)

	return api.App()
}

func get(t *testing.T, app *fiber.App, target string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Flowgraph API", body)
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/livez")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)

	status, _ = get(t, app, "/health")
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_Metrics(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "go_goroutines")
}

func TestAPI_NodeTypes(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/node-types")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"type":"httpRequest"`)
}
