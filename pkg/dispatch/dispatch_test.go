package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/flowgraph/pkg/channels/gochannel"
	"github.com/dukex/flowgraph/pkg/dispatch"
	"github.com/dukex/flowgraph/pkg/engine"
	"github.com/dukex/flowgraph/pkg/eventbus"
	"github.com/dukex/flowgraph/pkg/events"
	"github.com/dukex/flowgraph/pkg/mocks"
	"github.com/dukex/flowgraph/pkg/models"
	"github.com/dukex/flowgraph/pkg/persistence"
	"github.com/dukex/flowgraph/pkg/persistence/redisstore"
	"github.com/dukex/flowgraph/pkg/protocol"
	"github.com/dukex/flowgraph/pkg/registry"
	"github.com/dukex/flowgraph/pkg/stream"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// flaky fails its first failures calls.
type flaky struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flaky) Type() string           { return "flaky" }
func (f *flaky) Name() string           { return "Flaky" }
func (f *flaky) Description() string    { return "" }
func (f *flaky) Schema() map[string]any { return nil }

func (f *flaky) Execute(context.Context, map[string]any, any, *protocol.NodeContext) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("temporary outage")
	}

	return map[string]any{"ok": true}, nil
}

func (f *flaky) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fixture struct {
	client     redis.UniversalClient
	workflows  *redisstore.Workflows
	executions *redisstore.Executions
	log        *stream.Redis
	queue      *dispatch.Queue
	service    *dispatch.Service
	flaky      *flaky
}

func setup(t *testing.T, bus eventbus.EventPublisher) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		client:     client,
		workflows:  redisstore.NewWorkflows(client),
		executions: redisstore.NewExecutions(client),
		log:        stream.NewRedis(client),
		queue:      dispatch.NewQueue(client, "test:"),
		flaky:      &flaky{},
	}

	builtins := registry.Default(registry.Dependencies{Redis: client, WorkflowLog: f.log}).Executors()
	reg := registry.New(append(builtins, f.flaky)...)

	coordinator := engine.New(reg, f.log, f.executions, engine.WithCancellationCheck(f.executions))

	f.service = dispatch.NewService(dispatch.Config{
		Coordinator: coordinator,
		Workflows:   f.workflows,
		Executions:  f.executions,
		Events:      f.log,
		Queue:       f.queue,
		Bus:         bus,
	})

	require.NoError(t, f.workflows.SaveWorkflow(context.Background(), gatedWorkflow()))
	require.NoError(t, f.workflows.SaveWorkflow(context.Background(), &models.Workflow{
		ID:          "wf-flaky",
		Nodes:       []*models.Node{{ID: "call", Type: "flaky"}},
		Connections: []*models.Connection{},
	}))

	return f
}

// gatedWorkflow stores its input under a key and logs only when the status is 200.
func gatedWorkflow() *models.Workflow {
	return &models.Workflow{
		ID: "wf-gated",
		Nodes: []*models.Node{
			{ID: "shape", Type: models.NodeTypeTransform, Config: map[string]any{"code": `{"status": code, "user": name}`}},
			{ID: "save", Type: models.NodeTypeRedisSet, Config: map[string]any{"key": "user:{{user}}"}},
			{ID: "ok", Type: models.NodeTypeCondition, Config: map[string]any{"leftValue": "{{status}}", "operator": "equals", "rightValue": 200}},
			{ID: "log", Type: models.NodeTypeLogger, Config: map[string]any{"message": "saved"}},
		},
		Connections: []*models.Connection{
			{ID: "c1", Source: "shape", Target: "save"},
			{ID: "c2", Source: "save", Target: "ok"},
			{ID: "c3", Source: "ok", Target: "log"},
		},
	}
}

func startPool(t *testing.T, f *fixture, cfg dispatch.PoolConfig) {
	t.Helper()

	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = time.Second
	}

	pool := dispatch.NewPool(f.queue, f.service, cfg)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(pool.Stop)
}

func waitForStatus(t *testing.T, f *fixture, executionID string, want models.ExecutionStatus) *models.Execution {
	t.Helper()

	var execution *models.Execution

	require.Eventually(t, func() bool {
		var err error

		execution, err = f.executions.Execution(context.Background(), executionID)

		return err == nil && execution.Status == want
	}, 10*time.Second, 20*time.Millisecond)

	return execution
}

// withoutRunFields drops the fields that legitimately differ between two runs.
func withoutRunFields(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))

		for k, item := range typed {
			if k == "timestamp" || k == "executionId" {
				continue
			}

			out[k] = withoutRunFields(item)
		}

		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = withoutRunFields(item)
		}

		return out
	default:
		return v
	}
}

func TestService_StartSync(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	result, err := f.service.Start(ctx, dispatch.StartRequest{
		WorkflowID: "wf-gated",
		Inputs:     map[string]any{"code": 200, "name": "ana"},
		Mode:       models.ExecutionModeSync,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "saved", result.Result["log"].(map[string]any)["message"])

	stored, err := f.client.Get(ctx, "user:ana").Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":200,"user":"ana"}`, stored)

	awaited, err := f.service.AwaitResult(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, result.Result, awaited)

	record, err := f.executions.Execution(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)
	assert.Equal(t, models.ExecutionModeSync, record.Mode)
	assert.Equal(t, "anonymous", record.UserID)
	assert.Equal(t, &models.Progress{CurrentNode: "log", CompletedNodes: 4, TotalNodes: 4}, record.Progress)

	logged, err := f.log.Range(ctx, result.ExecutionID, "")
	require.NoError(t, err)
	require.NotEmpty(t, logged)
	assert.Equal(t, models.EventExecutionComplete, logged[len(logged)-1].Type)
}

func TestService_StartSyncFailure(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	f.flaky.failures = 1

	result, err := f.service.Start(ctx, dispatch.StartRequest{WorkflowID: "wf-flaky", Mode: models.ExecutionModeSync})
	require.Error(t, err)
	assert.Equal(t, "temporary outage", err.Error())
	require.NotNil(t, result)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Equal(t, 1, f.flaky.Calls())

	_, awaitErr := f.service.AwaitResult(ctx, result.ExecutionID)
	assert.Equal(t, err, awaitErr)

	record, err := f.executions.Execution(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	assert.Equal(t, "temporary outage", record.Error)
}

func TestService_PublishesLifecycleEvents(t *testing.T) {
	ofType := func(eventType events.EventType) any {
		return mock.MatchedBy(func(event eventbus.Event) bool { return event.GetType() == eventType })
	}

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.AnythingOfType("string"), ofType(events.ExecutionStartedEvent)).Return(nil).Twice()
	bus.On("Publish", mock.Anything, mock.AnythingOfType("string"), ofType(events.ExecutionCompletedEvent)).Return(nil).Once()
	bus.On("Publish", mock.Anything, mock.AnythingOfType("string"), ofType(events.ExecutionFailedEvent)).Return(errors.New("broker down")).Once()

	f := setup(t, bus)
	ctx := context.Background()

	_, err := f.service.Start(ctx, dispatch.StartRequest{WorkflowID: "wf-flaky", Mode: models.ExecutionModeSync})
	require.NoError(t, err)

	f.flaky.failures = 2

	_, err = f.service.Start(ctx, dispatch.StartRequest{WorkflowID: "wf-flaky", Mode: models.ExecutionModeSync})
	require.Error(t, err, "a failing publish does not hide the run error")

	bus.AssertExpectations(t)
}

func TestService_StartValidation(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.service.Start(ctx, dispatch.StartRequest{WorkflowID: "missing", Mode: models.ExecutionModeSync})
	assert.True(t, persistence.IsWorkflowNotFound(err))

	_, err = f.service.Start(ctx, dispatch.StartRequest{WorkflowID: "wf-gated", Mode: "later"})
	assert.ErrorIs(t, err, dispatch.ErrInvalidMode)

	noQueue := dispatch.NewService(dispatch.Config{Workflows: f.workflows, Executions: f.executions})
	_, err = noQueue.Start(ctx, dispatch.StartRequest{WorkflowID: "wf-gated"})
	assert.ErrorIs(t, err, dispatch.ErrNoQueue)

	_, err = f.service.AwaitResult(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestService_AsyncMatchesSync(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	for _, code := range []int{200, 404} {
		inputs := map[string]any{"code": code, "name": "ana"}

		syncResult, err := f.service.Start(ctx, dispatch.StartRequest{WorkflowID: "wf-gated", Inputs: inputs, Mode: models.ExecutionModeSync})
		require.NoError(t, err)

		asyncResult, err := f.service.Start(ctx, dispatch.StartRequest{WorkflowID: "wf-gated", Inputs: inputs, Mode: models.ExecutionModeAsync})
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusQueued, asyncResult.Status)

		_, err = f.service.AwaitResult(ctx, asyncResult.ExecutionID)
		assert.ErrorIs(t, err, dispatch.ErrNotSynchronous)

		if code == 200 {
			status, err := f.executions.Status(ctx, asyncResult.ExecutionID)
			require.NoError(t, err)
			assert.Equal(t, models.ExecutionStatusQueued, status)

			startPool(t, f, dispatch.PoolConfig{Workers: 2})
		}

		record := waitForStatus(t, f, asyncResult.ExecutionID, models.ExecutionStatusCompleted)

		want, err := json.Marshal(withoutRunFields(syncResult.Result))
		require.NoError(t, err)
		got, err := json.Marshal(withoutRunFields(record.Outputs))
		require.NoError(t, err)
		assert.JSONEq(t, string(want), string(got))
		assert.Equal(t, 1, record.Attempts)
	}

	require.Eventually(t, func() bool {
		waiting, processing, err := f.queue.Len(ctx)

		return err == nil && waiting == 0 && processing == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPool_RetriesWithBackoff(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	f.flaky.failures = 2

	result, err := f.service.Start(ctx, dispatch.StartRequest{WorkflowID: "wf-flaky"})
	require.NoError(t, err)

	startPool(t, f, dispatch.PoolConfig{Workers: 1, Attempts: 3, InitialBackoff: 10 * time.Millisecond})

	record := waitForStatus(t, f, result.ExecutionID, models.ExecutionStatusCompleted)
	assert.Equal(t, 3, record.Attempts)
	assert.Equal(t, 3, f.flaky.Calls())
	assert.Equal(t, map[string]any{"call": map[string]any{"ok": true}}, record.Outputs)
}

func TestPool_GivesUpAfterAttempts(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	failed := make(chan *events.ExecutionFailed, 1)
	retried := make(chan *events.ExecutionRetried, 10)

	require.NoError(t, bus.Handle(events.ExecutionFailedEvent, func(_ context.Context, event any) error {
		failed <- event.(*events.ExecutionFailed)

		return nil
	}))
	require.NoError(t, bus.Handle(events.ExecutionRetriedEvent, func(_ context.Context, event any) error {
		retried <- event.(*events.ExecutionRetried)

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	f := setup(t, bus)
	f.flaky.failures = 10

	result, err := f.service.Start(ctx, dispatch.StartRequest{WorkflowID: "wf-flaky"})
	require.NoError(t, err)

	startPool(t, f, dispatch.PoolConfig{Workers: 1, Attempts: 3, InitialBackoff: 10 * time.Millisecond})

	select {
	case event := <-failed:
		assert.Equal(t, result.ExecutionID, event.ExecutionID)
		assert.Equal(t, 3, event.Attempts)
		assert.Equal(t, "temporary outage", event.Error)
	case <-time.After(10 * time.Second):
		t.Fatal("no execution.failed notification")
	}

	assert.Eventually(t, func() bool { return len(retried) == 2 }, 5*time.Second, 10*time.Millisecond)

	record := waitForStatus(t, f, result.ExecutionID, models.ExecutionStatusFailed)
	assert.Equal(t, 3, record.Attempts)
	assert.Equal(t, 3, f.flaky.Calls())
}

func TestService_CancelQueuedJob(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	result, err := f.service.Start(ctx, dispatch.StartRequest{WorkflowID: "wf-flaky"})
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(ctx, result.ExecutionID))
	assert.True(t, persistence.IsExecutionFinished(f.service.Cancel(ctx, result.ExecutionID)))

	startPool(t, f, dispatch.PoolConfig{Workers: 1})

	require.Eventually(t, func() bool {
		waiting, processing, err := f.queue.Len(ctx)

		return err == nil && waiting == 0 && processing == 0
	}, 10*time.Second, 20*time.Millisecond)

	assert.Equal(t, 0, f.flaky.Calls())

	status, err := f.executions.Status(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, status)

	logged, err := f.log.Range(ctx, result.ExecutionID, "")
	require.NoError(t, err)
	require.NotEmpty(t, logged)
	assert.Equal(t, models.EventSystem, logged[0].Type)
	assert.Equal(t, "Execution cancelled by user", logged[0].Message)

	assert.True(t, persistence.IsExecutionNotFound(f.service.Cancel(ctx, "missing")))
}

func collect(t *testing.T, events <-chan *models.LogEvent) []models.EventType {
	t.Helper()

	var seen []models.EventType

	timeout := time.After(10 * time.Second)

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return seen
			}

			seen = append(seen, event.Type)
		case <-timeout:
			t.Fatalf("subscription still open after %v", seen)

			return seen
		}
	}
}

func TestPool_RetriedJobStreamEndsWithFinalOutcome(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	f.flaky.failures = 1

	result, err := f.service.Start(ctx, dispatch.StartRequest{WorkflowID: "wf-flaky"})
	require.NoError(t, err)

	subscription, err := f.log.Subscribe(ctx, result.ExecutionID)
	require.NoError(t, err)

	startPool(t, f, dispatch.PoolConfig{Workers: 1, Attempts: 3, InitialBackoff: 10 * time.Millisecond})

	seen := collect(t, subscription)

	assert.Equal(t, []models.EventType{
		models.EventNodeStart,
		models.EventNodeError,
		models.EventExecutionAttemptFailed,
		models.EventNodeStart,
		models.EventNodeComplete,
		models.EventExecutionComplete,
	}, seen)

	record := waitForStatus(t, f, result.ExecutionID, models.ExecutionStatusCompleted)
	assert.Equal(t, 2, record.Attempts)
}

func TestPool_ExhaustedJobStreamEndsWithOneFailure(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	f.flaky.failures = 10

	result, err := f.service.Start(ctx, dispatch.StartRequest{WorkflowID: "wf-flaky"})
	require.NoError(t, err)

	subscription, err := f.log.Subscribe(ctx, result.ExecutionID)
	require.NoError(t, err)

	startPool(t, f, dispatch.PoolConfig{Workers: 1, Attempts: 2, InitialBackoff: 10 * time.Millisecond})

	seen := collect(t, subscription)
	require.NotEmpty(t, seen)

	failures := 0
	attemptFailures := 0

	for _, eventType := range seen {
		switch eventType {
		case models.EventExecutionFailed:
			failures++
		case models.EventExecutionAttemptFailed:
			attemptFailures++
		}
	}

	assert.Equal(t, 1, failures)
	assert.Equal(t, 2, attemptFailures)
	assert.Equal(t, models.EventExecutionFailed, seen[len(seen)-1])

	record := waitForStatus(t, f, result.ExecutionID, models.ExecutionStatusFailed)
	assert.Equal(t, "temporary outage", record.Error)
	assert.Equal(t, 2, f.flaky.Calls())
}
