// Package template resolves {{path}} and ${path} references against node inputs and
// shared workflow variables.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	mustachePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)
	dollarPattern   = regexp.MustCompile(`\$\{([^}]+)\}`)
)

// Scope builds the lookup root used by most executors: the input fields merged with the
// shared variables. Variables win on key collisions.
func Scope(inputs any, variables map[string]any) map[string]any {
	scope := make(map[string]any)

	if m, ok := inputs.(map[string]any); ok {
		for k, v := range m {
			scope[k] = v
		}
	}

	for k, v := range variables {
		scope[k] = v
	}

	return scope
}

// ExtendedScope is Scope plus convenience aliases: the whole input under "data", and the
// fields of inputs.data, inputs.value and inputs.inputs.data lifted to the top level.
func ExtendedScope(inputs any, variables map[string]any) map[string]any {
	scope := Scope(inputs, variables)
	scope["data"] = inputs

	m, ok := inputs.(map[string]any)
	if !ok {
		return scope
	}

	lift := func(v any) {
		if obj, ok := v.(map[string]any); ok {
			for k, val := range obj {
				scope[k] = val
			}
		}
	}

	lift(m["data"])
	lift(m["value"])

	if nested, ok := m["inputs"].(map[string]any); ok {
		lift(nested["data"])
	}

	return scope
}

// Lookup walks a dot separated path through maps and slices.
func Lookup(root any, path string) (any, bool) {
	current := root

	for _, key := range strings.Split(strings.TrimSpace(path), ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}

			current = node[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

// Set writes value at path, creating intermediate objects as needed.
func Set(root map[string]any, path string, value any) map[string]any {
	if root == nil {
		root = make(map[string]any)
	}

	keys := strings.Split(path, ".")
	current := root

	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}

		current = next
	}

	current[keys[len(keys)-1]] = value

	return root
}

// Interpolate replaces every ${path} and {{path}} reference found in s. References that
// do not resolve are left untouched. Objects and arrays are rendered as JSON.
func Interpolate(s string, scope any) string {
	if s == "" {
		return s
	}

	replace := func(pattern *regexp.Regexp, input string) string {
		return pattern.ReplaceAllStringFunc(input, func(match string) string {
			path := pattern.FindStringSubmatch(match)[1]

			value, ok := Lookup(scope, path)
			if !ok {
				return match
			}

			return Stringify(value)
		})
	}

	return replace(mustachePattern, replace(dollarPattern, s))
}

// Value resolves a configured operand. A string holding exactly one reference yields the
// referenced value with its type preserved (nil when missing); other strings are
// interpolated; non-string values are returned as-is.
func Value(v any, scope any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	if path, whole := wholeReference(s); whole {
		value, _ := Lookup(scope, path)

		return value
	}

	return Interpolate(s, scope)
}

// HasReference reports whether s contains a template reference.
func HasReference(s string) bool {
	return mustachePattern.MatchString(s) || dollarPattern.MatchString(s)
}

// Stringify renders a resolved value the way it appears inside interpolated text.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(data)
	default:
		return fmt.Sprint(v)
	}
}

func wholeReference(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)

	for _, pattern := range []*regexp.Regexp{mustachePattern, dollarPattern} {
		loc := pattern.FindStringSubmatchIndex(trimmed)
		if loc != nil && loc[0] == 0 && loc[1] == len(trimmed) {
			return trimmed[loc[2]:loc[3]], true
		}
	}

	return "", false
}
