package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number is a JSON value that may arrive as a number or a numeric string.
// Anything that cannot be read as a float decodes to NaN.
type Number float64

// UnmarshalJSON implements json.Unmarshaler
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = Number(math.NaN())
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, ok := parseFloat(s)
		if !ok {
			*n = Number(math.NaN())
			return nil
		}
		*n = Number(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		*n = Number(math.NaN())
		return nil
	}
	*n = Number(f)
	return nil
}

// Float64 returns the value as a float64
func (n Number) Float64() float64 {
	return float64(n)
}

// Valid reports whether the value is a real number
func (n Number) Valid() bool {
	return !math.IsNaN(float64(n))
}

// getFloat64Value safely extracts a float64 value from the map
func getFloat64Value(data map[string]any, key string) (float64, bool) {
	val, ok := data[key]
	if !ok {
		return 0, false
	}
	return toFloat64(val)
}

func toFloat64(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		return parseFloat(v)
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// parseFloat reads the leading float in s, the way firmware often sends
// values such as "12.5" or "12.5km/h".
func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	end := 0
	for end < len(s) && strings.ContainsRune("+-.0123456789eE", rune(s[end])) {
		end++
	}
	for end > 0 {
		if f, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return f, true
		}
		end--
	}
	return 0, false
}
