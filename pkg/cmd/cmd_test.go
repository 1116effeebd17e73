package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/flowgraph/pkg/events"
	"github.com/dukex/flowgraph/pkg/log"
	"github.com/dukex/flowgraph/pkg/persistence/file"
	"github.com/dukex/flowgraph/pkg/persistence/memory"
	"github.com/dukex/flowgraph/pkg/persistence/redisstore"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url      string
		expected string
	}{
		{url: "redis://localhost:6379/0", expected: "redis"},
		{url: "rediss://cache:6380", expected: "rediss"},
		{url: "postgres://user:pass@db/flowgraph", expected: "postgres"},
		{url: "postgresql://db/flowgraph", expected: "postgresql"},
		{url: "memory://", expected: "memory"},
		{url: "file://./data", expected: "file"},
		{url: "./data", expected: "file"},
		{url: "mongodb://db", expected: "file"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, parsePersistenceProvider(tt.url))
		})
	}
}

func TestNewPersistence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := slog.Default()

	assert.IsType(t, &memory.Store{}, NewPersistence(ctx, logger, "memory://", nil))
	assert.IsType(t, &file.Persistence{}, NewPersistence(ctx, logger, "file://"+t.TempDir(), nil))

	mr := miniredis.RunT(t)
	client := NewRedisClient("redis://" + mr.Addr())
	t.Cleanup(func() { _ = client.Close() })

	store := NewPersistence(ctx, logger, "redis://"+mr.Addr(), client)
	require.IsType(t, &redisstore.Workflows{}, store)
	assert.NoError(t, store.HealthCheck(ctx))
}

func TestNewEventBus(t *testing.T) {
	t.Parallel()

	logger := slog.Default()

	assert.Nil(t, NewEventBus("", logger, "test", nil))

	bus := NewEventBus("gochannel", logger, "test", nil)
	require.NotNil(t, bus)
	assert.NoError(t, bus.Close())

	assert.Panics(t, func() { NewEventBus("kafka", logger, "test", nil) })
	assert.Panics(t, func() { NewEventBus("rabbitmq", logger, "test", nil) })
}

func TestNewTracer_Disabled(t *testing.T) {
	t.Parallel()

	tracer := NewTracer(context.Background(), slog.Default(), false, "test")
	_, span := tracer.Start(context.Background(), "noop")
	defer span.End()

	assert.False(t, span.SpanContext().IsValid())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func TestLogLifecycle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	logger := log.New(out, "info", "json")

	bus := NewEventBus("gochannel", logger, "test", nil)
	t.Cleanup(func() { _ = bus.Close() })

	require.NoError(t, LogLifecycle(ctx, bus, logger))

	err := bus.Publish(ctx, "exec-1", events.ExecutionCompleted{
		BaseEvent: events.NewBaseEvent(events.ExecutionCompletedEvent, "wf-1", "exec-1"),
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte(`"type":"execution.completed"`))
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	m, handler := NewMetrics()
	m.ExecutionStarted("sync")

	app := fiber.New()
	app.Get("/metrics", handler)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `flowgraph_executions_started_total{mode="sync"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
