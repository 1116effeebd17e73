package models

// Built-in node types.
const (
	NodeTypeHTTPRequest = "httpRequest"
	NodeTypeTransform   = "transform"
	NodeTypeRedisGet    = "redisGet"
	NodeTypeRedisSet    = "redisSet"
	NodeTypeCondition   = "condition"
	NodeTypeDelay       = "delay"
	NodeTypeLogger      = "logger"
)

// Position is layout-only data for the visual editor.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node represents a node instance in a workflow.
type Node struct {
	ID              string         `json:"id"                        validate:"required"`
	Type            string         `json:"type"                      validate:"required"`
	Name            string         `json:"name,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	ContinueOnError bool           `json:"continueOnError,omitempty"`
	Position        Position       `json:"position"`
}

// DisplayName returns the node name, falling back to its type.
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}

	return n.Type
}

// IsCondition reports whether the node is a condition node.
func (n *Node) IsCondition() bool {
	return n.Type == NodeTypeCondition
}
