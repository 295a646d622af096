package record

import (
	"math"
	"strconv"
	"strings"

	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// LooseEqual compares two field values with coercion: numbers, numeric
// strings and booleans compare by numeric value, so 5, "5" and 5.0 are equal
// and true equals 1. Objects and arrays compare structurally. Nil equals only
// nil.
func LooseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return sa == sb
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ba == bb
		}
	}
	if isComposite(a) || isComposite(b) {
		na, errA := store.Normalize(a)
		nb, errB := store.Normalize(b)
		return errA == nil && errB == nil && store.Equal(na, nb)
	}
	x, y := looseNumber(a), looseNumber(b)
	return !math.IsNaN(x) && x == y
}

func isComposite(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func looseNumber(v any) float64 {
	if n, ok := store.AsNumber(v); ok {
		return n
	}
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return math.NaN()
}
