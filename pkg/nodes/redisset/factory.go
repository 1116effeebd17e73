package redisset

// Type returns the node type tag.
func (e *Executor) Type() string {
	return "redisSet"
}

// Name returns the node type name.
func (e *Executor) Name() string {
	return "Redis Set"
}

// Description returns the node type description.
func (e *Executor) Description() string {
	return "Writes a value to Redis as a string, hash, list, set or JSON document"
}

// Schema returns the JSON schema for Redis SET node configuration.
func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{
				"type":        "string",
				"description": "Key to write. Supports {{path}} templating",
			},
			"value": map[string]any{
				"description": "Value to store. Defaults to the node inputs when empty",
			},
			"ttl": map[string]any{
				"type":        "number",
				"description": "Expiration in seconds",
				"minimum":     0,
			},
			"dataType": map[string]any{
				"type":    "string",
				"default": "string",
				"enum":    []string{"string", "hash", "list", "set", "json"},
			},
		},
		"required": []string{"key"},
	}
}
