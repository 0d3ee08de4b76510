package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NormalizeKey converts a key value to a canonical string form, suitable for
// looking up records by id (e.g. "Germany" or "8429529").
//
// Backends return integers as int64, float64 or []byte depending on the driver;
// this helper keeps lookups consistent across backends. Whole floats render
// without a fraction so 12.0 and 12 normalize the same way.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<63 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []byte:
		return strings.TrimSpace(string(t))
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
