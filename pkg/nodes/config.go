// Package nodes holds the helpers shared by the built-in node executors.
package nodes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout renders timestamps with millisecond precision in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp formats t with TimestampLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// String returns config[key] when it is a non-empty string, def otherwise.
func String(config map[string]any, key, def string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}

	return def
}

// Number reads a numeric config value. Numeric strings are accepted.
func Number(config map[string]any, key string, def float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}

	return def
}

// Bool reads a boolean config value.
func Bool(config map[string]any, key string, def bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}

	return def
}

// Object returns m as a map when it is a JSON object.
func Object(m any) (map[string]any, bool) {
	obj, ok := m.(map[string]any)

	return obj, ok
}

// Merge returns a copy of base with extra laid over it.
func Merge(base any, extra map[string]any) map[string]any {
	out := make(map[string]any)

	if obj, ok := base.(map[string]any); ok {
		for k, v := range obj {
			out[k] = v
		}
	}

	for k, v := range extra {
		out[k] = v
	}

	return out
}

// Encode renders a value for storage: strings as-is, everything else as JSON.
func Encode(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return "null"
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(data)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(data)
	}
}

// DecodeJSONLike parses s as JSON when it looks like an object or array.
func DecodeJSONLike(s string) any {
	if len(s) == 0 || (s[0] != '{' && s[0] != '[') {
		return s
	}

	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return s
	}

	return out
}
