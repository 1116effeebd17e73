package logger

// Type returns the node type tag.
func (e *Executor) Type() string {
	return "logger"
}

// Name returns the node type name.
func (e *Executor) Name() string {
	return "Logger"
}

// Description returns the node type description.
func (e *Executor) Description() string {
	return "Writes a templated message to the execution log and the workflow log"
}

// Schema returns the JSON schema for logger node configuration.
func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"level": map[string]any{
				"type":    "string",
				"default": "info",
				"enum":    []string{"debug", "info", "warn", "error"},
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. Supports {{path}} and ${path} templating; data, value and inputs.data fields are reachable directly",
				"default":     defaultMessage,
			},
			"includeInputs": map[string]any{
				"type":    "boolean",
				"default": false,
			},
			"includeNodeInfo": map[string]any{
				"type":    "boolean",
				"default": false,
			},
		},
	}
}
