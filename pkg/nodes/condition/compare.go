package condition

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Compare applies operator to the resolved left and right operands.
func Compare(operator string, left, right any) (bool, error) {
	switch operator {
	case "equals", "==":
		return looseEqual(left, right), nil
	case "notEquals", "!=":
		return !looseEqual(left, right), nil
	case "strictEquals", "===":
		return strictEqual(left, right), nil
	case "strictNotEquals", "!==":
		return !strictEqual(left, right), nil
	case "greaterThan", ">":
		return order(left, right, func(c int) bool { return c > 0 }), nil
	case "greaterThanOrEqual", ">=":
		return order(left, right, func(c int) bool { return c >= 0 }), nil
	case "lessThan", "<":
		return order(left, right, func(c int) bool { return c < 0 }), nil
	case "lessThanOrEqual", "<=":
		return order(left, right, func(c int) bool { return c <= 0 }), nil
	case "contains":
		return strings.Contains(jsString(left), jsString(right)), nil
	case "notContains":
		return !strings.Contains(jsString(left), jsString(right)), nil
	case "startsWith":
		return strings.HasPrefix(jsString(left), jsString(right)), nil
	case "endsWith":
		return strings.HasSuffix(jsString(left), jsString(right)), nil
	case "matches":
		re, err := regexp.Compile(jsString(right))
		if err != nil {
			return false, nil
		}

		return re.MatchString(jsString(left)), nil
	case "in":
		list, ok := right.([]any)

		return ok && includes(list, left), nil
	case "notIn":
		list, ok := right.([]any)

		return !ok || !includes(list, left), nil
	case "exists":
		return left != nil, nil
	case "notExists":
		return left == nil, nil
	case "empty":
		return isEmpty(left), nil
	case "notEmpty":
		return !isEmpty(left), nil
	default:
		return false, fmt.Errorf("unknown operator: %s", operator)
	}
}

// Truthy reports whether v counts as true: everything except false, nil, zero, NaN and the
// empty string.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	default:
		if f, ok := toFloat(v); ok {
			return f != 0 && !math.IsNaN(f)
		}

		return true
	}
}

func isEmpty(v any) bool {
	if !Truthy(v) {
		return true
	}

	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}

	return false
}

func includes(list []any, v any) bool {
	return slices.ContainsFunc(list, func(item any) bool { return strictEqual(item, v) })
}

func strictEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)

		return ok && fa == fb
	}

	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}

	return reflect.DeepEqual(a, b)
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if strictEqual(a, b) {
		return true
	}

	_, aObj := a.(map[string]any)
	_, bObj := b.(map[string]any)
	_, aArr := a.([]any)
	_, bArr := b.([]any)

	if aObj || bObj || aArr || bArr {
		return false
	}

	sa, aStr := a.(string)
	sb, bStr := b.(string)

	if aStr && bStr {
		return sa == sb
	}

	fa, okA := toNumber(a)
	fb, okB := toNumber(b)

	return okA && okB && fa == fb
}

func order(a, b any, cmp func(int) bool) bool {
	sa, aStr := a.(string)
	sb, bStr := b.(string)

	if aStr && bStr {
		return cmp(strings.Compare(sa, sb))
	}

	fa, okA := toNumber(a)
	fb, okB := toNumber(b)

	if !okA || !okB {
		return false
	}

	switch {
	case fa < fb:
		return cmp(-1)
	case fa > fb:
		return cmp(1)
	default:
		return cmp(0)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}

	return 0, false
}

// toNumber converts operands the way loose comparisons do: booleans become 0 or 1, numeric
// strings are parsed, nil becomes 0.
func toNumber(v any) (float64, bool) {
	if f, ok := toFloat(v); ok {
		return f, !math.IsNaN(f)
	}

	switch val := v.(type) {
	case nil:
		return 0, true
	case bool:
		if val {
			return 1, true
		}

		return 0, true
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return 0, true
		}

		f, err := strconv.ParseFloat(trimmed, 64)

		return f, err == nil
	}

	return 0, false
}

// jsString renders v the way string operators see it.
func jsString(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if item == nil {
				parts = append(parts, "")

				continue
			}

			parts = append(parts, jsString(item))
		}

		return strings.Join(parts, ",")
	case map[string]any:
		return "[object Object]"
	}

	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	return fmt.Sprint(v)
}
