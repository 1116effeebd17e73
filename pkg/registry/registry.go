// Package registry maps node type tags to their executors.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dukex/flowgraph/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// FallbackWarning is reported by the fallback executor for node types with no executor.
const FallbackWarning = "No executor implemented"

// ErrUnknownType is returned when a node type has no registered executor.
var ErrUnknownType = errors.New("unknown node type")

// ValidationError lists the schema violations found in a node config.
type ValidationError struct {
	Type   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config for node type '%s': %s", e.Type, strings.Join(e.Errors, "; "))
}

// Registry is an immutable mapping from node type to executor.
type Registry struct {
	executors map[string]protocol.Executor
	fallback  protocol.Executor
}

// New builds a registry from the given executors. Later executors replace earlier ones with
// the same type.
func New(executors ...protocol.Executor) *Registry {
	r := &Registry{
		executors: make(map[string]protocol.Executor, len(executors)),
		fallback:  fallbackExecutor{},
	}

	for _, executor := range executors {
		r.executors[executor.Type()] = executor
	}

	return r
}

// Lookup returns the executor for nodeType, or the fallback executor when none is registered.
func (r *Registry) Lookup(nodeType string) protocol.Executor {
	if executor, ok := r.executors[nodeType]; ok {
		return executor
	}

	return r.fallback
}

// Has reports whether nodeType has a registered executor.
func (r *Registry) Has(nodeType string) bool {
	_, ok := r.executors[nodeType]

	return ok
}

// Types returns the registered node types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}

	sort.Strings(types)

	return types
}

// Executors returns the registered executors sorted by type.
func (r *Registry) Executors() []protocol.Executor {
	types := r.Types()
	executors := make([]protocol.Executor, 0, len(types))

	for _, t := range types {
		executors = append(executors, r.executors[t])
	}

	return executors
}

// ValidateConfig checks a node config against the JSON schema of its executor.
func (r *Registry) ValidateConfig(nodeType string, config map[string]any) error {
	executor, ok := r.executors[nodeType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, nodeType)
	}

	schema := executor.Schema()
	if len(schema) == 0 {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("failed to validate config for node type '%s': %w", nodeType, err)
	}

	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Type: nodeType}
	for _, desc := range result.Errors() {
		verr.Errors = append(verr.Errors, desc.String())
	}

	return verr
}

type fallbackExecutor struct{}

func (fallbackExecutor) Type() string           { return "" }
func (fallbackExecutor) Name() string           { return "Fallback" }
func (fallbackExecutor) Description() string    { return "Reports node types without an executor" }
func (fallbackExecutor) Schema() map[string]any { return nil }

func (fallbackExecutor) Execute(_ context.Context, _ map[string]any, inputs any, nodeCtx *protocol.NodeContext) (any, error) {
	nodeType := ""
	if nodeCtx != nil {
		nodeType = nodeCtx.NodeType
	}

	return map[string]any{
		"warning":  FallbackWarning,
		"nodeType": nodeType,
		"inputs":   inputs,
	}, nil
}
