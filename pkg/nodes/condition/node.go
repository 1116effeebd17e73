// Package condition provides the condition executor. A condition that evaluates to false
// stops every node downstream of it.
package condition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowgraph/pkg/nodes"
	"github.com/dukex/flowgraph/pkg/protocol"
	"github.com/dukex/flowgraph/pkg/script"
	"github.com/dukex/flowgraph/pkg/template"
)

// OperatorCustom evaluates config.condition (or config.expression) as a JSONata expression.
const OperatorCustom = "custom"

// Executor evaluates a boolean from a comparison operator or a custom expression.
type Executor struct {
	host *script.Host
}

// New returns a condition executor. Custom expressions run in host.
func New(host *script.Host) *Executor {
	if host == nil {
		host = script.NewHost(0)
	}

	return &Executor{host: host}
}

// Execute evaluates the condition. The result reports passed false when the condition does
// not hold; evaluation failures are reported as error results.
func (e *Executor) Execute(ctx context.Context, config map[string]any, inputs any, nodeCtx *protocol.NodeContext) (any, error) {
	expression := nodes.String(config, "condition", nodes.String(config, "expression", ""))
	operator := nodes.String(config, "operator", OperatorCustom)

	var variables map[string]any
	if nodeCtx != nil {
		variables = nodeCtx.Variables
	}

	_ = nodeCtx.Log(ctx, "info", "Evaluating condition", nil)

	var (
		passed bool
		err    error
	)

	if operator == OperatorCustom && expression != "" {
		passed, err = e.evalCustom(ctx, expression, inputs, variables, config)
	} else {
		scope := template.Scope(inputs, variables)
		passed, err = Compare(operator, template.Value(config["leftValue"], scope), template.Value(config["rightValue"], scope))
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		_ = nodeCtx.Log(ctx, "error", "Condition evaluation failed: "+err.Error(), nil)

		var condition any
		if expression != "" {
			condition = expression
		}

		return map[string]any{
			"error":     true,
			"message":   "Condition evaluation failed",
			"details":   err.Error(),
			"condition": condition,
			"operator":  operator,
		}, nil
	}

	_ = nodeCtx.Log(ctx, "info", fmt.Sprintf("Condition evaluated to: %t", passed), nil)

	condition := expression
	if condition == "" {
		condition = fmt.Sprintf("%s %s %s", describe(config, "leftValue"), operator, describe(config, "rightValue"))
	}

	result := map[string]any{
		"success":   passed,
		"result":    passed,
		"passed":    passed,
		"operator":  operator,
		"condition": condition,
		"timestamp": nodes.Timestamp(time.Now()),
		"data":      passThrough(inputs),
	}

	if !passed {
		result["message"] = "Condition evaluated to false"
	}

	return result, nil
}

func (e *Executor) evalCustom(ctx context.Context, expression string, inputs any, variables map[string]any, config map[string]any) (bool, error) {
	timeout := time.Duration(nodes.Number(config, "timeout", 5000)) * time.Millisecond

	data := passThrough(inputs)
	root := template.Scope(inputs, nil)

	if obj, ok := nested(inputs); ok {
		for k, v := range obj {
			root[k] = v
		}
	}

	bindings := map[string]any{
		"data":      data,
		"inputs":    inputs,
		"input":     inputs,
		"variables": variables,
	}

	value, err := e.host.Eval(ctx, expression, root, bindings, timeout)
	if errors.Is(err, script.ErrUndefined) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return Truthy(value), nil
}

// passThrough returns inputs.data when it is set, the inputs otherwise.
func passThrough(inputs any) any {
	if obj, ok := inputs.(map[string]any); ok {
		if data, ok := obj["data"]; ok && Truthy(data) {
			return data
		}
	}

	return inputs
}

func nested(inputs any) (map[string]any, bool) {
	obj, ok := inputs.(map[string]any)
	if !ok {
		return nil, false
	}

	data, ok := obj["data"].(map[string]any)

	return data, ok
}

func describe(config map[string]any, key string) string {
	v, ok := config[key]
	if !ok {
		return "undefined"
	}

	return jsString(v)
}
