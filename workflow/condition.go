package workflow

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Leading path segments that name the upstream output itself.
var rootAliases = map[string]bool{
	"$": true, "$json": true, "json": true, "output": true, "data": true, "result": true,
}

// Matches evaluates the condition against an upstream output. An unresolvable
// path never matches.
func (c *Condition) Matches(output any) bool {
	if c == nil {
		return true
	}
	v, ok := ResolvePath(output, c.Field)
	if !ok {
		return false
	}
	return valuesEqual(v, c.Equals)
}

// ResolvePath walks a dotted path through maps and slices. A leading root
// alias segment ("output.value") is skipped.
func ResolvePath(root any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	if len(parts) > 1 && rootAliases[parts[0]] {
		parts = parts[1:]
	} else if len(parts) == 1 && rootAliases[parts[0]] {
		return root, true
	}

	cur := root
	for _, p := range parts {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[p]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// valuesEqual compares JSON-shaped values; numbers compare by value regardless of Go type.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if _, ok := toFloat(b); ok {
		return false
	}
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !valuesEqual(v, w) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
