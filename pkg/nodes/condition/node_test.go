package condition

import (
	"context"
	"testing"

	"github.com/dukex/flowgraph/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Execute_Operators(t *testing.T) {
	inputs := map[string]any{
		"status": 200.0,
		"user":   map[string]any{"role": "admin"},
	}

	tests := []struct {
		name   string
		config map[string]any
		passed bool
	}{
		{"typed reference", map[string]any{"operator": "===", "leftValue": "{{status}}", "rightValue": 200.0}, true},
		{"interpolated text", map[string]any{"operator": "equals", "leftValue": "role={{user.role}}", "rightValue": "role=admin"}, true},
		{"variable reference", map[string]any{"operator": "equals", "leftValue": "{{env}}", "rightValue": "prod"}, true},
		{"missing reference", map[string]any{"operator": "exists", "leftValue": "{{nope}}"}, false},
		{"false comparison", map[string]any{"operator": ">", "leftValue": "{{status}}", "rightValue": 300.0}, false},
	}

	executor := New(nil)
	nodeCtx := &protocol.NodeContext{Variables: map[string]any{"env": "prod"}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := executor.Execute(context.Background(), tt.config, inputs, nodeCtx)
			require.NoError(t, err)

			out := got.(map[string]any)
			assert.Equal(t, tt.passed, out["passed"])
			assert.Equal(t, tt.passed, out["success"])
			assert.Equal(t, tt.passed, out["result"])
			assert.Equal(t, inputs, out["data"])
			assert.NotEmpty(t, out["timestamp"])

			if tt.passed {
				assert.NotContains(t, out, "message")
			} else {
				assert.Equal(t, "Condition evaluated to false", out["message"])
			}
		})
	}
}

func TestExecutor_Execute_Custom(t *testing.T) {
	inputs := map[string]any{
		"data":  map[string]any{"status": 200.0, "items": []any{1.0, 2.0}},
		"extra": "x",
	}

	tests := []struct {
		name       string
		expression string
		passed     bool
	}{
		{"flattened data field", "status = 200", true},
		{"data binding", "$sum($data.items) = 3", true},
		{"inputs binding", `$inputs.extra = "x"`, true},
		{"false expression", "status = 404", false},
		{"undefined is false", "missing", false},
		{"truthy non-boolean", "status", true},
	}

	executor := New(nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := executor.Execute(context.Background(), map[string]any{"condition": tt.expression}, inputs, nil)
			require.NoError(t, err)

			out := got.(map[string]any)
			assert.Equal(t, tt.passed, out["passed"])
			assert.Equal(t, tt.expression, out["condition"])
			assert.Equal(t, "custom", out["operator"])
			assert.Equal(t, inputs["data"], out["data"])
		})
	}
}

func TestExecutor_Execute_ExpressionAlias(t *testing.T) {
	got, err := New(nil).Execute(context.Background(), map[string]any{"expression": "ok"}, map[string]any{"ok": true}, nil)
	require.NoError(t, err)

	assert.Equal(t, true, got.(map[string]any)["passed"])
}

func TestExecutor_Execute_Errors(t *testing.T) {
	executor := New(nil)

	got, err := executor.Execute(context.Background(), map[string]any{"operator": "between"}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"error":     true,
		"message":   "Condition evaluation failed",
		"details":   "unknown operator: between",
		"condition": nil,
		"operator":  "between",
	}, got)

	got, err = executor.Execute(context.Background(), map[string]any{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "unknown operator: custom", got.(map[string]any)["details"])

	got, err = executor.Execute(context.Background(), map[string]any{"condition": "status ="}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, got.(map[string]any)["error"])
	assert.Equal(t, "status =", got.(map[string]any)["condition"])
}

func TestExecutor_Execute_ConditionText(t *testing.T) {
	got, err := New(nil).Execute(context.Background(), map[string]any{"operator": "equals", "leftValue": "{{a}}", "rightValue": 1.0}, map[string]any{"a": 1.0}, nil)
	require.NoError(t, err)

	assert.Equal(t, "{{a}} equals 1", got.(map[string]any)["condition"])
}
