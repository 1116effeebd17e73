package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/flowgraph/pkg/dispatch"
	"github.com/dukex/flowgraph/pkg/engine"
	"github.com/dukex/flowgraph/pkg/mocks"
	"github.com/dukex/flowgraph/pkg/models"
	"github.com/dukex/flowgraph/pkg/persistence/memory"
	"github.com/dukex/flowgraph/pkg/persistence/redisstore"
	"github.com/dukex/flowgraph/pkg/registry"
	"github.com/dukex/flowgraph/pkg/stream"
	"github.com/dukex/flowgraph/pkg/testutil"
	"github.com/dukex/flowgraph/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	app        *fiber.App
	workflows  *redisstore.Workflows
	executions *redisstore.Executions
}

func setupTestApp(t *testing.T, withQueue bool) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	workflows := redisstore.NewWorkflows(client)
	executions := redisstore.NewExecutions(client)
	log := stream.NewRedis(client)
	reg := registry.Default(registry.Dependencies{Redis: client, WorkflowLog: log})

	cfg := dispatch.Config{
		Coordinator: engine.New(reg, log, executions, engine.WithCancellationCheck(executions)),
		Workflows:   workflows,
		Executions:  executions,
		Events:      log,
	}
	if withQueue {
		cfg.Queue = dispatch.NewQueue(client, "test:")
	}

	handlers := web.NewAPIHandlers(web.Dependencies{
		Service:      dispatch.NewService(cfg),
		Workflows:    workflows,
		Executions:   executions,
		Stream:       log,
		WorkflowLogs: log,
		Registry:     reg,
	})

	app := fiber.New()
	handlers.Register(app)

	require.NoError(t, workflows.SaveWorkflow(context.Background(), testutil.CreateTestWorkflow("wf-greet",
		testutil.CreateTestNode(testutil.WithID("shape"), testutil.WithTransform(`{"greeting": "hello " & name}`)),
		testutil.CreateTestNode(testutil.WithID("log"), testutil.WithConfig(map[string]any{"message": "{{greeting}}"})),
	)))

	return &testApp{app: app, workflows: workflows, executions: executions}
}

func (a *testApp) do(t *testing.T, method, target string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func (a *testApp) runSync(t *testing.T, name string) web.ExecuteResponse {
	t.Helper()

	resp, raw := a.do(t, http.MethodPost, "/executions", map[string]any{
		"workflowId": "wf-greet",
		"inputs":     map[string]any{"name": name},
		"mode":       "sync",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out web.ExecuteResponse
	require.NoError(t, json.Unmarshal(raw, &out))

	return out
}

func TestAPIHandlers_ExecuteWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "missing workflow id",
			requestBody:    map[string]any{"inputs": map[string]any{}},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "unknown mode",
			requestBody:    map[string]any{"workflowId": "wf-greet", "mode": "later"},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "unknown workflow",
			requestBody:    map[string]any{"workflowId": "missing", "mode": "sync"},
			expectedStatus: http.StatusNotFound,
			expectedType:   "workflow_not_found",
		},
		{
			name:           "invalid json",
			requestBody:    "not-an-object",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := setupTestApp(t, true)

			resp, raw := a.do(t, http.MethodPost, "/executions", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			var problem map[string]any
			require.NoError(t, json.Unmarshal(raw, &problem))
			assert.Equal(t, tt.expectedType, problem["type"])
		})
	}
}

func TestAPIHandlers_ExecuteWorkflowSync(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)

	out := a.runSync(t, "ada")

	assert.NotEmpty(t, out.ExecutionID)
	assert.Equal(t, models.ExecutionStatusCompleted, out.Status)
	assert.Equal(t, map[string]any{"greeting": "hello ada"}, out.Result["shape"])

	record, err := a.executions.Execution(context.Background(), out.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", record.UserID)
	assert.Equal(t, models.ExecutionModeSync, record.Mode)
}

func TestAPIHandlers_ExecuteWorkflowAsync(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)

	req := httptest.NewRequest(http.MethodPost, "/executions", strings.NewReader(`{"workflowId":"wf-greet","inputs":{"name":"bob"}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "user-7")

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out web.ExecuteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, models.ExecutionStatusQueued, out.Status)
	assert.Equal(t, "Workflow execution queued", out.Message)

	record, err := a.executions.Execution(context.Background(), out.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "user-7", record.UserID)
	assert.Equal(t, models.ExecutionStatusQueued, record.Status)

	result, raw := a.do(t, http.MethodGet, "/executions/"+out.ExecutionID+"/result", nil)
	assert.Equal(t, http.StatusConflict, result.StatusCode, string(raw))
}

func TestAPIHandlers_ExecuteWorkflowAsyncWithoutQueue(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, false)

	resp, raw := a.do(t, http.MethodPost, "/executions", map[string]any{"workflowId": "wf-greet"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, string(raw))
}

func TestAPIHandlers_GetExecution(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)
	out := a.runSync(t, "ada")

	resp, raw := a.do(t, http.MethodGet, "/executions/"+out.ExecutionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		ID     string             `json:"id"`
		Status string             `json:"status"`
		Logs   []*models.LogEvent `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, out.ExecutionID, got.ID)
	assert.Equal(t, "completed", got.Status)
	require.NotEmpty(t, got.Logs)
	assert.Equal(t, models.EventNodeStart, got.Logs[0].Type)
	assert.Equal(t, models.EventExecutionComplete, got.Logs[len(got.Logs)-1].Type)

	missing, _ := a.do(t, http.MethodGet, "/executions/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPIHandlers_GetExecutionResult(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)
	out := a.runSync(t, "ada")

	resp, raw := a.do(t, http.MethodGet, "/executions/"+out.ExecutionID+"/result", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got web.ResultResponse
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, map[string]any{"greeting": "hello ada"}, got.Result["shape"])
}

func TestAPIHandlers_CancelExecution(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)

	resp, raw := a.do(t, http.MethodPost, "/executions", map[string]any{"workflowId": "wf-greet", "mode": "async"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var queued web.ExecuteResponse
	require.NoError(t, json.Unmarshal(raw, &queued))

	resp, raw = a.do(t, http.MethodPost, "/executions/"+queued.ExecutionID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Execution cancelled"}`, string(raw))

	status, err := a.executions.Status(context.Background(), queued.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, status)

	again, _ := a.do(t, http.MethodPost, "/executions/"+queued.ExecutionID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, again.StatusCode)

	completed := a.runSync(t, "ada")
	finished, _ := a.do(t, http.MethodPost, "/executions/"+completed.ExecutionID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, finished.StatusCode)
}

func TestAPIHandlers_StreamExecutionLogs(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)
	out := a.runSync(t, "ada")

	resp, raw := a.do(t, http.MethodGet, "/executions/"+out.ExecutionID+"/logs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := string(raw)
	assert.Contains(t, body, "event: node_start")
	assert.Contains(t, body, "event: node_log")
	assert.Contains(t, body, "event: execution_complete")

	first := strings.TrimPrefix(strings.SplitN(body, "\n", 2)[0], "id: ")
	require.NotEmpty(t, first)

	resp, raw = a.do(t, http.MethodGet, "/executions/"+out.ExecutionID+"/logs?since="+first, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(raw), "id: "+first+"\n")
	assert.Contains(t, string(raw), "event: execution_complete")

	missing, _ := a.do(t, http.MethodGet, "/executions/nope/logs", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPIHandlers_StreamExecutionLogsUnknownSince(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)
	out := a.runSync(t, "ada")

	resp, raw := a.do(t, http.MethodGet, "/executions/"+out.ExecutionID+"/logs?since=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(raw), "bogus")
	assert.NotContains(t, string(raw), "event: execution_complete")
}

func TestAPIHandlers_GetWorkflowExecutions(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)
	first := a.runSync(t, "ada")
	second := a.runSync(t, "bob")

	resp, raw := a.do(t, http.MethodGet, "/executions/workflow/wf-greet", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []*models.Execution
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Len(t, got, 2)
	assert.Equal(t, second.ExecutionID, got[0].ID)
	assert.Equal(t, first.ExecutionID, got[1].ID)

	resp, raw = a.do(t, http.MethodGet, "/executions/workflow/wf-greet?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Len(t, got, 1)
}

func TestAPIHandlers_Workflows(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)

	workflow := map[string]any{
		"name": "Lookup",
		"nodes": []map[string]any{
			{"id": "get", "type": "redisGet", "config": map[string]any{"key": "user:{{id}}"}},
		},
	}

	resp, raw := a.do(t, http.MethodPut, "/workflows/wf-lookup", workflow)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, raw = a.do(t, http.MethodGet, "/workflows/wf-lookup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.Workflow
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "wf-lookup", got.ID)
	assert.Equal(t, "Lookup", got.Name)
	require.Len(t, got.Nodes, 1)

	invalid := map[string]any{
		"nodes": []map[string]any{{"id": "get", "type": "redisGet", "config": map[string]any{}}},
	}
	resp, raw = a.do(t, http.MethodPut, "/workflows/wf-broken", invalid)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(raw), "invalid_config")

	resp, _ = a.do(t, http.MethodDelete, "/workflows/wf-lookup", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = a.do(t, http.MethodGet, "/workflows/wf-lookup", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_GetWorkflowLogs(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)
	a.runSync(t, "ada")

	resp, raw := a.do(t, http.MethodGet, "/workflows/wf-greet/logs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "hello ada", entries[0]["message"])
}

func TestAPIHandlers_NodeTypes(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)

	resp, raw := a.do(t, http.MethodGet, "/node-types", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var types []web.NodeTypeResponse
	require.NoError(t, json.Unmarshal(raw, &types))

	names := make([]string, 0, len(types))
	for _, nt := range types {
		names = append(names, nt.Type)
	}

	assert.ElementsMatch(t, []string{
		"condition", "delay", "httpRequest", "logger", "redisGet", "redisSet", "transform",
	}, names)

	tests := []struct {
		name           string
		nodeType       string
		config         map[string]any
		expectedStatus int
	}{
		{name: "valid config", nodeType: "redisGet", config: map[string]any{"key": "a"}, expectedStatus: http.StatusOK},
		{name: "missing required key", nodeType: "redisGet", config: map[string]any{}, expectedStatus: http.StatusBadRequest},
		{name: "unknown type", nodeType: "smtp", config: map[string]any{}, expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := a.do(t, http.MethodPost, "/node-types/"+tt.nodeType+"/validate", map[string]any{"config": tt.config})
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(raw))
		})
	}
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)

	resp, raw := a.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "healthy", got["status"])
}

func TestAPIHandlers_StoreFailures(t *testing.T) {
	t.Parallel()

	store := &mocks.MockWorkflowStore{}
	store.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))
	store.On("WorkflowByID", mock.Anything, "wf-1").Return(nil, errors.New("connection refused"))

	reg := registry.Default(registry.Dependencies{})
	log := stream.NewMemory()
	executions := memory.New()

	handlers := web.NewAPIHandlers(web.Dependencies{
		Service: dispatch.NewService(dispatch.Config{
			Coordinator: engine.New(reg, log, executions),
			Workflows:   store,
			Executions:  executions,
			Events:      log,
		}),
		Workflows:  store,
		Executions: executions,
		Stream:     log,
		Registry:   reg,
	})

	app := fiber.New()
	handlers.Register(app)
	a := &testApp{app: app}

	resp, raw := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(raw), "connection refused")

	resp, raw = a.do(t, http.MethodPost, "/executions", map[string]any{"workflowId": "wf-1", "mode": "sync"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(raw), "internal_error")

	store.AssertExpectations(t)
}
