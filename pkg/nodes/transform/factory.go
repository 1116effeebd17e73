package transform

// Type returns the node type tag.
func (e *Executor) Type() string {
	return "transform"
}

// Name returns the node type name.
func (e *Executor) Name() string {
	return "Transform"
}

// Description returns the node type description.
func (e *Executor) Description() string {
	return "Reshapes the node inputs with a JSONata expression"
}

// Schema returns the JSON schema for transform node configuration.
func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "JSONata expression evaluated against the inputs. $inputs, $input, $variables, $get, $set and $formatDate are available",
				"examples": []string{
					`{"total": $sum(items.price)}`,
					`$set($inputs, "status", "processed")`,
				},
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Evaluation timeout in milliseconds",
				"default":     5000,
				"minimum":     1,
			},
		},
	}
}
