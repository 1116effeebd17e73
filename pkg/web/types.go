package web

import (
	"github.com/dukex/flowgraph/pkg/models"
)

// ExecuteRequest starts an execution of a stored workflow.
type ExecuteRequest struct {
	WorkflowID string         `json:"workflowId" validate:"required"`
	Inputs     map[string]any `json:"inputs"`
	Mode       string         `json:"mode"       validate:"omitempty,oneof=sync async"`
}

type ExecuteResponse struct {
	ExecutionID string                 `json:"executionId"`
	Status      models.ExecutionStatus `json:"status"`
	Message     string                 `json:"message,omitempty"`
	Result      map[string]any         `json:"result,omitempty"`
}

// ExecutionResponse is an execution record with its event log.
type ExecutionResponse struct {
	*models.Execution

	Logs []*models.LogEvent `json:"logs"`
}

type ResultResponse struct {
	ExecutionID string         `json:"executionId"`
	Result      map[string]any `json:"result"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// NodeTypeResponse describes a registered executor.
type NodeTypeResponse struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema,omitempty"`
}

type ValidateConfigRequest struct {
	Config map[string]any `json:"config"`
}

type ValidateConfigResponse struct {
	Valid bool `json:"valid"`
}
