// Package models defines the core domain models for node-based workflow execution.
package models

// Workflow is a stored graph definition. The engine treats it as read-only input.
type Workflow struct {
	ID          string         `json:"id"                    validate:"required"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Nodes       []*Node        `json:"nodes"                 validate:"dive,required"`
	Connections []*Connection  `json:"connections"           validate:"dive,required"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// NodeByID returns the node with the given id.
func (w *Workflow) NodeByID(id string) (*Node, bool) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// Connection is a directed data-flow edge between two nodes.
type Connection struct {
	ID     string `json:"id"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`

	// Condition is reserved. Branch skipping is driven by condition node output, not by edges.
	Condition string `json:"condition,omitempty"`
}
