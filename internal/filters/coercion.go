// internal/filters/coercion.go
package filters

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

/*
 * Value coercion for in-process evaluation.
 *
 * Event properties arrive as untyped JSON, so a numeric filter may meet a
 * string property ("42") and a date filter a timestamp string. Comparisons
 * coerce the way the analytical store does for property columns:
 *
 *   - numbers: float64, int, int64 and numeric strings (trimmed); booleans
 *     are not numbers
 *   - text: every scalar has a text form; booleans print as true/false
 *   - time: time.Time, or strings in RFC 3339 or "YYYY-MM-DD[ hh:mm:ss]"
 */

// toNumber converts value to float64 if it has a numeric reading.
func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// toText converts a scalar to its text form. Returns false for nil.
func toText(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case bool:
		if v {
			return "true", true
		}
		return "false", true
	case time.Time:
		return v.UTC().Format("2006-01-02 15:04:05"), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// toTime parses value as a timestamp.
func toTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
