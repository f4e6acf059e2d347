// Package query provides a set of utility functions to support the compiler
// and the evaluator. These helpers handle value serialization and numeric
// conversions.
package query

import (
	"strconv"
	"time"
)

// TimeFormat is the ISO-8601 layout date values are serialized with. It
// matches the millisecond UTC form stored in the mirror.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// SerializeValue converts a filter value into the primitive bound as a
// statement parameter. Dates become ISO-8601 strings; everything else is
// returned unchanged.
func SerializeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(TimeFormat)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(TimeFormat)
	default:
		return v
	}
}

// IsNull reports whether v is a literal null.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	if t, ok := v.(*time.Time); ok && t == nil {
		return true
	}
	return false
}

// ToFloat64 is a utility function that converts a value of various numeric types
// to a float64. It returns the converted float64 and a boolean indicating whether
// the conversion was successful.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// isNumeric reports whether v is a Go numeric type.
func isNumeric(v any) bool {
	if _, ok := v.(string); ok {
		return false
	}
	_, ok := ToFloat64(v)
	return ok
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
