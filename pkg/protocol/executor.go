// Package protocol defines the contract between the execution coordinator and node executors.
package protocol

import (
	"context"
)

// Executor runs one node type. Implementations are stateless; everything a call needs comes
// from its arguments.
type Executor interface {
	// Type returns the node type tag this executor handles.
	Type() string

	// Name returns a human-readable name for the node type.
	Name() string

	// Description returns a description of what the node does.
	Description() string

	// Schema returns the JSON schema for the node's config.
	Schema() map[string]any

	// Execute runs the node with its config against the resolved inputs.
	Execute(ctx context.Context, config map[string]any, inputs any, nodeCtx *NodeContext) (any, error)
}

// LogFunc appends a node_log event for the node currently executing.
type LogFunc func(ctx context.Context, level, message string, data map[string]any) error

// NodeContext carries the identity of the node being executed and the shared run state it
// may read.
type NodeContext struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	NodeName    string
	NodeType    string
	Variables   map[string]any
	LogFunc     LogFunc
}

// Log records a message in the execution's event stream. It is a no-op when the context was
// built without a LogFunc.
func (n *NodeContext) Log(ctx context.Context, level, message string, data map[string]any) error {
	if n == nil || n.LogFunc == nil {
		return nil
	}

	return n.LogFunc(ctx, level, message, data)
}
