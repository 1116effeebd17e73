// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/flowgraph/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a logger node with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:       uuid.New().String(),
		Type:     models.NodeTypeLogger,
		Name:     "Test Node",
		Config:   map[string]any{"message": "test", "level": "info"},
		Position: models.Position{X: 100, Y: 200},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node ID.
func WithID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.ID = id
	}
}

// WithType sets the node type.
func WithType(nodeType string) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = nodeType
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Config = config
	}
}

// WithContinueOnError lets the run go on when the node fails.
func WithContinueOnError() func(*models.Node) {
	return func(n *models.Node) {
		n.ContinueOnError = true
	}
}

// WithTransform makes the node a transform evaluating code.
func WithTransform(code string) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = models.NodeTypeTransform
		n.Config = map[string]any{"code": code}
	}
}

// CreateTestWorkflow creates a workflow with the given nodes chained in order.
func CreateTestWorkflow(id string, nodes ...*models.Node) *models.Workflow {
	workflow := &models.Workflow{
		ID:          id,
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Nodes:       nodes,
		Connections: []*models.Connection{},
	}

	for i := 1; i < len(nodes); i++ {
		workflow.Connections = append(workflow.Connections, CreateTestConnection(nodes[i-1].ID, nodes[i].ID))
	}

	return workflow
}

// CreateTestConnection creates a connection between two nodes.
func CreateTestConnection(sourceNodeID, targetNodeID string) *models.Connection {
	return &models.Connection{
		ID:     uuid.New().String(),
		Source: sourceNodeID,
		Target: targetNodeID,
	}
}
