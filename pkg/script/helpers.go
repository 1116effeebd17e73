package script

import (
	"fmt"
	"time"

	"github.com/dukex/flowgraph/pkg/template"
)

func get(obj any, path string) (any, error) {
	value, ok := template.Lookup(obj, path)
	if !ok {
		return nil, nil
	}

	return value, nil
}

func set(obj any, path string, value any) (any, error) {
	root, ok := obj.(map[string]any)
	if !ok {
		root = make(map[string]any)
	}

	clone, err := normalize(root)
	if err != nil {
		return nil, err
	}

	cloned, _ := clone.(map[string]any)

	return template.Set(cloned, path, value), nil
}

func formatDate(value any, layout ...string) (string, error) {
	var t time.Time

	switch v := value.(type) {
	case float64:
		t = time.UnixMilli(int64(v)).UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return "", fmt.Errorf("invalid date %q: %w", v, err)
		}

		t = parsed
	default:
		return "", fmt.Errorf("unsupported date value %v", value)
	}

	format := time.RFC3339
	if len(layout) > 0 && layout[0] != "" {
		format = layout[0]
	}

	return t.Format(format), nil
}
