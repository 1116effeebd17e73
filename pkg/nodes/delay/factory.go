package delay

// Type returns the node type tag.
func (e *Executor) Type() string {
	return "delay"
}

// Name returns the node type name.
func (e *Executor) Name() string {
	return "Delay"
}

// Description returns the node type description.
func (e *Executor) Description() string {
	return "Waits for a duration, at most 5 minutes, then passes its inputs through"
}

// Schema returns the JSON schema for delay node configuration.
func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"delay": map[string]any{
				"type":    "number",
				"default": defaultDelay,
			},
			"unit": map[string]any{
				"type":    "string",
				"default": "milliseconds",
				"enum":    []string{"ms", "milliseconds", "s", "seconds", "min", "minutes", "h", "hours"},
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message logged before waiting. Supports {{path}} templating",
				"default":     "Waiting...",
			},
		},
	}
}
