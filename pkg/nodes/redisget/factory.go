package redisget

// Type returns the node type tag.
func (e *Executor) Type() string {
	return "redisGet"
}

// Name returns the node type name.
func (e *Executor) Name() string {
	return "Redis Get"
}

// Description returns the node type description.
func (e *Executor) Description() string {
	return "Reads a string, hash, list, set or JSON value from Redis"
}

// Schema returns the JSON schema for Redis GET node configuration.
func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{
				"type":        "string",
				"description": "Key to read. Supports {{path}} templating",
				"examples":    []string{"user:{{userId}}", "cache:latest"},
			},
			"dataType": map[string]any{
				"type":    "string",
				"default": "string",
				"enum":    []string{"string", "hash", "list", "set", "json"},
			},
			"parseJson": map[string]any{
				"type":        "boolean",
				"description": "Decode members that look like JSON objects or arrays",
				"default":     true,
			},
		},
		"required": []string{"key"},
	}
}
