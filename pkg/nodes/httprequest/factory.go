package httprequest

// Type returns the node type tag.
func (e *Executor) Type() string {
	return "httpRequest"
}

// Name returns the node type name.
func (e *Executor) Name() string {
	return "HTTP Request"
}

// Description returns the node type description.
func (e *Executor) Description() string {
	return "Performs an HTTP request and returns the status and decoded response body"
}

// Schema returns the JSON schema for HTTP request node configuration.
func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP URL to request. Supports {{path}} templating against the node inputs",
				"examples": []string{
					"https://api.example.com/users",
					"https://api.example.com/users/{{userId}}",
				},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method",
				"default":     "GET",
				"enum":        []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers. Values support templating",
			},
			"body": map[string]any{
				"description": "Request body, sent for POST, PUT and PATCH. Strings support templating",
				"type":        []string{"string", "object", "array"},
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Request timeout in milliseconds",
				"default":     30000,
				"minimum":     1,
			},
		},
		"required": []string{"url"},
	}
}
