package models

const SkipReasonConditionFalse = "Upstream condition evaluated to false"

// ExecutionContext is the mutable state of one run. It is owned by a single coordinator run.
type ExecutionContext struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Inputs      map[string]any `json:"inputs"`
	Outputs     map[string]any `json:"outputs"`
	Variables   map[string]any `json:"variables"`
}

// NewExecutionContext creates an empty context for a run.
func NewExecutionContext(executionID, workflowID string, inputs, variables map[string]any) *ExecutionContext {
	if inputs == nil {
		inputs = make(map[string]any)
	}

	if variables == nil {
		variables = make(map[string]any)
	}

	return &ExecutionContext{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Inputs:      inputs,
		Outputs:     make(map[string]any),
		Variables:   variables,
	}
}

// SkipMarker is the output recorded for a node that will not run because an upstream
// condition failed.
func SkipMarker(skippedBy string) map[string]any {
	return map[string]any{
		"skipped":   true,
		"reason":    SkipReasonConditionFalse,
		"skippedBy": skippedBy,
	}
}

// IsSkipped reports whether an output is a skip marker.
func IsSkipped(output any) bool {
	m, ok := output.(map[string]any)
	if !ok {
		return false
	}

	skipped, _ := m["skipped"].(bool)

	return skipped
}

// SkipReason returns the reason stored in a skip marker.
func SkipReason(output any) string {
	m, ok := output.(map[string]any)
	if !ok {
		return ""
	}

	reason, _ := m["reason"].(string)

	return reason
}

// IsFailedCondition reports whether an output carries success:false and passed:false.
func IsFailedCondition(output any) bool {
	m, ok := output.(map[string]any)
	if !ok {
		return false
	}

	success, hasSuccess := m["success"].(bool)
	passed, hasPassed := m["passed"].(bool)

	return hasSuccess && hasPassed && !success && !passed
}
