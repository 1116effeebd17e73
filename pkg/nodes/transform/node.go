// Package transform provides the transform executor, which reshapes node inputs with a
// JSONata expression.
package transform

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/flowgraph/pkg/nodes"
	"github.com/dukex/flowgraph/pkg/protocol"
	"github.com/dukex/flowgraph/pkg/script"
)

// Executor evaluates the configured expression in the script host.
type Executor struct {
	host *script.Host
}

// New returns a transform executor backed by host.
func New(host *script.Host) *Executor {
	if host == nil {
		host = script.NewHost(0)
	}

	return &Executor{host: host}
}

// Execute evaluates config.code with the inputs as context. The expression sees $inputs,
// $input and $variables as well as the host helpers. An empty expression or an undefined
// result passes the inputs through.
func (e *Executor) Execute(ctx context.Context, config map[string]any, inputs any, nodeCtx *protocol.NodeContext) (any, error) {
	code := nodes.String(config, "code", "")
	timeout := time.Duration(nodes.Number(config, "timeout", 5000)) * time.Millisecond

	_ = nodeCtx.Log(ctx, "info", "Executing transform node", nil)

	if code == "" {
		return inputs, nil
	}

	var variables map[string]any
	if nodeCtx != nil {
		variables = nodeCtx.Variables
	}

	bindings := map[string]any{
		"inputs":    inputs,
		"input":     inputs,
		"variables": variables,
	}

	result, err := e.host.Eval(ctx, code, inputs, bindings, timeout)
	if errors.Is(err, script.ErrUndefined) {
		_ = nodeCtx.Log(ctx, "info", "Transform executed successfully", nil)

		return inputs, nil
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		_ = nodeCtx.Log(ctx, "error", "Transform execution failed: "+err.Error(), nil)

		return map[string]any{
			"error":   true,
			"message": "Transform execution failed",
			"details": err.Error(),
			"code":    code,
			"inputs":  inputs,
		}, nil
	}

	_ = nodeCtx.Log(ctx, "info", "Transform executed successfully", nil)

	return result, nil
}
