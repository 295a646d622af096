package store

import (
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
)

// Normalize converts v into the datastore's canonical JSON representation:
// numbers become float64, structs become maps, and nil entries and empty
// objects are pruned. A result of nil means "no value".
func Normalize(v any) (any, error) {
	out, err := Decode(v)
	if err != nil {
		return nil, err
	}
	return prune(out), nil
}

// Decode round-trips v through JSON without pruning, so empty arrays and
// objects survive.
func Decode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, c := range t {
			if c = prune(c); c == nil {
				delete(t, k)
			} else {
				t[k] = c
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		if len(t) == 0 {
			return nil
		}
		for i, c := range t {
			t[i] = prune(c)
		}
		return t
	}
	return v
}

// Clone deep-copies a normalized value.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, c := range t {
			m[k] = Clone(c)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, c := range t {
			s[i] = Clone(c)
		}
		return s
	}
	return v
}

// Equal reports whether two normalized values are identical.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// AsNumber converts any Go numeric type, or a json.Number, to float64.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	if b, ok := v.(bool); ok {
		if b {
			return 2
		}
		return 1
	}
	if _, ok := AsNumber(v); ok {
		return 3
	}
	if _, ok := v.(string); ok {
		return 4
	}
	return 5
}

// Compare orders values the way the datastore orders query results:
// null < false < true < numbers < strings < objects and arrays. Strings
// compare by byte order; objects compare equal to each other.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case 3:
		x, _ := AsNumber(a)
		y, _ := AsNumber(b)
		return cmp.Compare(x, y)
	case 4:
		return cmp.Compare(a.(string), b.(string))
	}
	return 0
}

// orderValue is the value a child is sorted on under q.
func orderValue(s Snapshot, q *Query) any {
	if q == nil || q.OrderBy == "" {
		return s.Key
	}
	return s.Child(q.OrderBy).Value
}

// InRange reports whether v lies within the closed range [start, end], where
// nil bounds are open.
func InRange(v, start, end any) bool {
	if start != nil && Compare(v, start) < 0 {
		return false
	}
	if end != nil && Compare(v, end) > 0 {
		return false
	}
	return true
}

// ApplyQuery filters and sorts children according to q. Ties on the ordered
// value are broken by key.
func ApplyQuery(children []Snapshot, q *Query) []Snapshot {
	out := make([]Snapshot, 0, len(children))
	for _, c := range children {
		if q != nil && !InRange(orderValue(c, q), q.Start, q.End) {
			continue
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b Snapshot) int {
		if c := Compare(orderValue(a, q), orderValue(b, q)); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

// ChildMap indexes a list of child snapshots by key.
func ChildMap(children []Snapshot) map[string]any {
	m := make(map[string]any, len(children))
	for _, c := range children {
		m[c.Key] = c.Value
	}
	return m
}

// DiffChildren computes the child events that turn before into after.
// Removals come first, then additions, then changes, each in key order.
// Event values are deep copies and never alias before or after.
func DiffChildren(before, after map[string]any) []ChildEvent {
	var removed, added, changed []ChildEvent
	for _, k := range sortedKeys(before) {
		if _, ok := after[k]; !ok {
			removed = append(removed, ChildEvent{Type: ChildRemoved, Snapshot: Snapshot{Key: k, Value: Clone(before[k])}})
		}
	}
	for _, k := range sortedKeys(after) {
		old, ok := before[k]
		switch {
		case !ok:
			added = append(added, ChildEvent{Type: ChildAdded, Snapshot: Snapshot{Key: k, Value: Clone(after[k])}})
		case !Equal(old, after[k]):
			changed = append(changed, ChildEvent{Type: ChildChanged, Snapshot: Snapshot{Key: k, Value: Clone(after[k])}})
		}
	}
	return append(append(removed, added...), changed...)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
