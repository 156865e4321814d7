package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Document is a canonical per-ticker research document. Documents are
// long-lived heterogeneous JSON (hypotheses, evidence cards, narrative
// sections, verdict, price history) authored outside this service, so the
// structure is kept schema-free: merge rules must preserve every field they
// do not explicitly touch.
type Document map[string]interface{}

// DeepCopy returns a structurally independent copy of the document.
// The merge engine operates on copies only; the loaded document is never
// mutated in place.
func (d Document) DeepCopy() Document {
	if d == nil {
		return nil
	}
	return Document(deepCopyMap(map[string]interface{}(d)))
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

// GetString returns the string at key, or "" when absent or not a string.
func (d Document) GetString(key string) string {
	s, _ := d[key].(string)
	return s
}

// GetMap returns the sub-object at key, or nil when absent or not an object.
func (d Document) GetMap(key string) map[string]interface{} {
	m, _ := d[key].(map[string]interface{})
	return m
}

// GetSlice returns the array at key, or nil when absent or not an array.
func (d Document) GetSlice(key string) []interface{} {
	s, _ := d[key].([]interface{})
	return s
}

// AsFloat coerces a JSON value to float64. Handles float64, json.Number,
// int, and numeric strings ("12.34", "A$12.34" is not accepted). LLM and
// feed payloads frequently carry numbers as strings.
func AsFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AsInt coerces a JSON value to int, tolerating float64 and numeric strings.
func AsInt(v interface{}) (int, bool) {
	f, ok := AsFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}
