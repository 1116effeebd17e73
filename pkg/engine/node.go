package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowgraph/pkg/graph"
	"github.com/dukex/flowgraph/pkg/models"
	"github.com/dukex/flowgraph/pkg/otelhelper"
	"github.com/dukex/flowgraph/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
)

// visit handles one node of the order: skip it, or run it and record its output.
func (c *Coordinator) visit(ctx context.Context, state *execution, node *models.Node) error {
	state.visited[node.ID] = true
	outputs := state.context.Outputs
	name := node.DisplayName()

	if state.skipped[node.ID] {
		return c.emit(ctx, state, &models.LogEvent{
			Type:     models.EventNodeSkipped,
			NodeID:   node.ID,
			NodeName: name,
			Message:  fmt.Sprintf("Skipping node: %s - %s", name, models.SkipReason(outputs[node.ID])),
			Data:     asData(outputs[node.ID]),
		})
	}

	predecessors := state.predecessors(node.ID)
	inputs := state.inputsFor(predecessors)

	// Failed conditions mark their downstream nodes eagerly, so this only fires when that
	// marking was missed.
	if conditionID, ok := state.failedCondition(predecessors); ok {
		state.logger.WarnContext(ctx, "node reached below a failed condition without a skip marker",
			"node_id", node.ID, "condition_id", conditionID)

		outputs[node.ID] = models.SkipMarker(conditionID)
		state.skipped[node.ID] = true

		return c.emit(ctx, state, &models.LogEvent{
			Type:     models.EventNodeSkipped,
			NodeID:   node.ID,
			NodeName: name,
			Message:  fmt.Sprintf("Skipping node: %s - Upstream condition failed", name),
			Data:     asData(outputs[node.ID]),
		})
	}

	if err := c.emit(ctx, state, &models.LogEvent{
		Type:     models.EventNodeStart,
		NodeID:   node.ID,
		NodeName: name,
		Message:  "Starting node: " + name,
	}); err != nil {
		return err
	}

	result, err := c.invoke(ctx, state, node, inputs)
	if err != nil {
		return c.nodeFailed(ctx, state, node, err)
	}

	outputs[node.ID] = result

	if node.IsCondition() && models.IsFailedCondition(result) {
		if err := c.emit(ctx, state, &models.LogEvent{
			Type:     models.EventNodeComplete,
			NodeID:   node.ID,
			NodeName: name,
			Message:  "Condition node evaluated to false, stopping downstream execution",
			Data:     map[string]any{"result": result},
		}); err != nil {
			return err
		}

		// Nodes that already ran through another path are overwritten as well.
		for _, id := range graph.Downstream(node.ID, state.run.Workflow.Connections) {
			if _, known := state.nodes[id]; !known || id == node.ID {
				continue
			}

			outputs[id] = models.SkipMarker(node.ID)
			state.skipped[id] = true
		}
	} else if err := c.emit(ctx, state, &models.LogEvent{
		Type:     models.EventNodeComplete,
		NodeID:   node.ID,
		NodeName: name,
		Message:  "Completed node: " + name,
		Data:     map[string]any{"result": result},
	}); err != nil {
		return err
	}

	c.reportProgress(ctx, state, node.ID)

	return nil
}

// nodeFailed logs the failure, then applies the continue-on-error policy.
func (c *Coordinator) nodeFailed(ctx context.Context, state *execution, node *models.Node, cause error) error {
	state.logger.ErrorContext(ctx, "node execution failed",
		"node_id", node.ID, "node_type", node.Type, "error", cause)

	if err := c.emit(ctx, state, &models.LogEvent{
		Type:     models.EventNodeError,
		NodeID:   node.ID,
		NodeName: node.DisplayName(),
		Level:    "error",
		Message:  "Error in node: " + cause.Error(),
		Error:    cause.Error(),
	}); err != nil {
		return err
	}

	if node.ContinueOnError {
		state.context.Outputs[node.ID] = map[string]any{"error": cause.Error()}

		return nil
	}

	return &NodeError{NodeID: node.ID, NodeType: node.Type, Err: cause}
}

func (c *Coordinator) invoke(ctx context.Context, state *execution, node *models.Node, inputs any) (result any, err error) {
	executor := c.executors.Lookup(node.Type)

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	nodeCtx := &protocol.NodeContext{
		ExecutionID: state.run.ExecutionID,
		WorkflowID:  state.run.WorkflowID,
		NodeID:      node.ID,
		NodeName:    node.DisplayName(),
		NodeType:    node.Type,
		Variables:   state.context.Variables,
		LogFunc: func(ctx context.Context, level, message string, data map[string]any) error {
			return c.emit(ctx, state, &models.LogEvent{
				Type:     models.EventNodeLog,
				NodeID:   node.ID,
				NodeName: node.DisplayName(),
				Level:    level,
				Message:  message,
				Data:     data,
			})
		},
	}

	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "node.execute",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
		attribute.String(otelhelper.NodeNameKey, node.DisplayName()),
	)
	defer span.End()

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor for node type '%s' panicked: %v", node.Type, r)
		}

		outcome := "success"
		if err != nil {
			outcome = "error"
			otelhelper.SetError(span, err, attribute.String(otelhelper.NodeIDKey, node.ID))
		}

		c.metrics.ObserveNode(node.Type, outcome, time.Since(start))
	}()

	return executor.Execute(ctx, config, inputs, nodeCtx)
}

func (c *Coordinator) reportProgress(ctx context.Context, state *execution, nodeID string) {
	if state.run.Progress == nil {
		return
	}

	progress := models.Progress{
		CurrentNode:    nodeID,
		CompletedNodes: len(state.context.Outputs),
		TotalNodes:     len(state.run.Workflow.Nodes),
	}

	if err := state.run.Progress(ctx, progress); err != nil {
		state.logger.WarnContext(ctx, "failed to report progress", "node_id", nodeID, "error", err)
	}
}

// predecessors returns the known source nodes of connections targeting nodeID.
func (s *execution) predecessors(nodeID string) []string {
	var known []string

	for _, id := range graph.Predecessors(nodeID, s.run.Workflow.Connections) {
		if _, ok := s.nodes[id]; ok {
			known = append(known, id)
		}
	}

	return known
}

// inputsFor resolves a node's inputs: the run inputs without predecessors, the output of a
// single predecessor as-is, or a map of predecessor id to output.
func (s *execution) inputsFor(predecessors []string) any {
	outputs := s.context.Outputs

	switch len(predecessors) {
	case 0:
		return s.context.Inputs
	case 1:
		if output, ok := outputs[predecessors[0]]; ok && output != nil {
			return output
		}

		return map[string]any{}
	default:
		combined := make(map[string]any, len(predecessors))

		for _, id := range predecessors {
			if output, ok := outputs[id]; ok && output != nil {
				combined[id] = output
			}
		}

		return combined
	}
}

func (s *execution) failedCondition(predecessors []string) (string, bool) {
	for _, id := range predecessors {
		if s.nodes[id].IsCondition() && models.IsFailedCondition(s.context.Outputs[id]) {
			return id, true
		}
	}

	return "", false
}

func asData(output any) map[string]any {
	if m, ok := output.(map[string]any); ok {
		return m
	}

	return nil
}
