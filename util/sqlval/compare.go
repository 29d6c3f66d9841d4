// Package sqlval compares and normalizes values coming from SQL literals, bound parameters and
// driver rows, where the same number may arrive as int64, float64, string or []byte.
package sqlval

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Normalize converts driver byte slices to strings so values compare by content.
func Normalize(v any) any {
	switch b := v.(type) {
	case []byte:
		return string(b)
	case sql.RawBytes:
		return string(b)
	}
	return v
}

// Compare orders two values: NULL first, then numerically when both sides are numbers
// (including numeric strings), chronologically for times, and lexically otherwise.
func Compare(a, b any) int {
	a, b = Normalize(a), Normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if ia, ok := AsInt64(a); ok {
		if ib, ok := AsInt64(b); ok {
			switch {
			case ia < ib:
				return -1
			case ia > ib:
				return 1
			}
			return 0
		}
	}
	if fa, ok := AsFloat64(a); ok {
		if fb, ok := AsFloat64(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Equal reports whether Compare considers a and b the same.
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}

// AsInt64 returns v as an integer when it holds one exactly.
func AsInt64(v any) (int64, bool) {
	switch n := Normalize(v).(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// AsFloat64 returns v as a float when it is numeric.
func AsFloat64(v any) (float64, bool) {
	if i, ok := AsInt64(v); ok {
		return float64(i), true
	}
	switch n := Normalize(v).(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
