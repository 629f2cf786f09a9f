package tools

import (
	"fmt"
	"strconv"
	"time"
)

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

// intParam accepts JSON numbers and numeric strings
func intParam(params map[string]interface{}, key string) (int64, bool, error) {
	switch v := params[key].(type) {
	case nil:
		return 0, false, nil
	case float64:
		return int64(v), true, nil
	case string:
		if v == "" {
			return 0, false, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid %s: %w", key, err)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("invalid %s: expected a number", key)
	}
}

func boolParam(params map[string]interface{}, key string) (*bool, error) {
	switch v := params[key].(type) {
	case nil:
		return nil, nil
	case bool:
		return &v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		return &b, nil
	default:
		return nil, fmt.Errorf("invalid %s: expected a boolean", key)
	}
}

// timeParam parses RFC 3339 timestamps or plain dates
func timeParam(params map[string]interface{}, key string) (*time.Time, error) {
	s := stringParam(params, key)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid %s format: %q", key, s)
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
