package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Exchanges return numbers as strings, floats or integers depending on the
// endpoint and the day of the week. These helpers accept all of them.

// Float converts a loosely typed wire value into a float64.
func Float(v interface{}) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		if t == "" {
			return 0, nil
		}
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("cannot parse %T as float", v)
	}
}

// FloatOr converts like Float but falls back to def on malformed input.
// Used when one bad field must not fail the whole response.
func FloatOr(v interface{}, def float64) float64 {
	f, err := Float(v)
	if err != nil {
		return def
	}
	return f
}

// ParseFloat parses a wire string, returning 0 for empty input.
func ParseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// TimeMillis converts a millisecond epoch wire value into a time.Time.
// Un-parseable timestamps default to now rather than failing the response.
func TimeMillis(v interface{}) time.Time {
	ms, err := Float(v)
	if err != nil || ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(int64(ms)).UTC()
}

// TimeSeconds converts a second epoch wire value, tolerating fractional
// seconds. Un-parseable timestamps default to now.
func TimeSeconds(v interface{}) time.Time {
	s, err := Float(v)
	if err != nil || s <= 0 {
		return time.Now().UTC()
	}
	sec := int64(s)
	nsec := int64((s - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// TimeRFC3339 parses an RFC3339 wire timestamp, defaulting to now on
// malformed input.
func TimeRFC3339(s string) time.Time {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC()
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC()
	}
	return time.Now().UTC()
}
