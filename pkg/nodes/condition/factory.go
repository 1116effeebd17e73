package condition

// Type returns the node type tag.
func (e *Executor) Type() string {
	return "condition"
}

// Name returns the node type name.
func (e *Executor) Name() string {
	return "Condition"
}

// Description returns the node type description.
func (e *Executor) Description() string {
	return "Evaluates a boolean. When it is false every node downstream is skipped"
}

// Schema returns the JSON schema for condition node configuration.
func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operator": map[string]any{
				"type":    "string",
				"default": OperatorCustom,
				"enum": []string{
					OperatorCustom,
					"equals", "==", "notEquals", "!=",
					"strictEquals", "===", "strictNotEquals", "!==",
					"greaterThan", ">", "greaterThanOrEqual", ">=",
					"lessThan", "<", "lessThanOrEqual", "<=",
					"contains", "notContains", "startsWith", "endsWith", "matches",
					"in", "notIn", "exists", "notExists", "empty", "notEmpty",
				},
			},
			"condition": map[string]any{
				"type":        "string",
				"description": "JSONata boolean expression used by the custom operator",
				"examples":    []string{"status = 200", "$count($inputs.items) > 0"},
			},
			"expression": map[string]any{
				"type":        "string",
				"description": "Alias of condition",
			},
			"leftValue": map[string]any{
				"description": "Left operand. A single {{path}} reference keeps the referenced type",
			},
			"rightValue": map[string]any{
				"description": "Right operand. A single {{path}} reference keeps the referenced type",
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Custom expression timeout in milliseconds",
				"default":     5000,
			},
		},
	}
}
