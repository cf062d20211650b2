package nodes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// configString returns the first non-empty string under keys.
func configString(cfg map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := cfg[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch x := v.(type) {
		case string:
			s = x
		case fmt.Stringer:
			s = x.String()
		default:
			s = fmt.Sprint(x)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// configMap returns the first map value under keys.
func configMap(cfg map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if m, ok := cfg[k].(map[string]any); ok {
			return m
		}
	}
	return nil
}

// configHeaders narrows a header map to strings.
func configHeaders(cfg map[string]any, key string) (map[string]string, error) {
	raw, ok := cfg[key]
	if !ok || raw == nil {
		return map[string]string{}, nil
	}
	out := map[string]string{}
	switch h := raw.(type) {
	case map[string]string:
		for k, v := range h {
			out[k] = v
		}
	case map[string]any:
		for k, v := range h {
			out[k] = fmt.Sprint(v)
		}
	default:
		return nil, fmt.Errorf("%s must be an object, got %T", key, raw)
	}
	return out, nil
}

// configInt parses an integer under key, returning def when absent.
func configInt(cfg map[string]any, key string, def int) (int, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
}

// stringify renders a data value as prompt text.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]any, []any:
		if b, err := json.Marshal(x); err == nil {
			return string(b)
		}
		return fmt.Sprint(x)
	default:
		return fmt.Sprint(x)
	}
}
