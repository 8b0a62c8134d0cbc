package mapview

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// toFloat converts a decoded column value to a float.
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// toCount converts a decoded count to a non-negative integer.
func toCount(v any) (int64, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return int64(f), true
}

// parseSRID returns a usable SRID or NativeSRID when the value is absent,
// non-positive or non-finite.
func parseSRID(v any) int {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return NativeSRID
	}
	return int(f)
}

// decodeText parses JSON objects and arrays delivered as text; anything else
// is returned unchanged.
func decodeText(v any) any {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return v
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return v
	}
	var out any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return v
	}
	return out
}
