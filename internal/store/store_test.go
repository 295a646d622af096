package store

import (
	"testing"
)

func TestSplitJoin(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"Users", "Users"},
		{"/A/B/C/", "A/B/C"},
		{"A//B", "A/B"},
	} {
		if got := Join(tc.in); got != tc.want {
			t.Errorf("Join(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := Join("A/B", "c", "/d/"); got != "A/B/c/d" {
		t.Errorf("Join = %q", got)
	}
	if got := Parent("A/B/C"); got != "A/B" {
		t.Errorf("Parent = %q", got)
	}
	if got := Parent("A"); got != "" {
		t.Errorf("Parent(top) = %q", got)
	}
	if got := Base("A/B/C"); got != "C" {
		t.Errorf("Base = %q", got)
	}
}

func TestRelated(t *testing.T) {
	for _, tc := range []struct {
		a, b string
		want bool
	}{
		{"Users", "Users", true},
		{"Users", "Users/u1/name", true},
		{"Users/u1", "Users", true},
		{"", "Dogs", true},
		{"Users", "UsersX", false},
		{"Users/u1", "Users/u2", false},
	} {
		if got := Related(tc.a, tc.b); got != tc.want {
			t.Errorf("Related(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestValidatePath(t *testing.T) {
	if err := ValidatePath("A/B_c/-Nx1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, p := range []string{"a.b", "a/#", "x$", "[0]"} {
		if err := ValidatePath(p); err == nil {
			t.Errorf("ValidatePath(%q) = nil, want error", p)
		}
	}
}

func TestNormalize(t *testing.T) {
	type dog struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	got, err := Normalize(map[string]any{
		"dog":   dog{Name: "Rex", Age: 3},
		"gone":  nil,
		"empty": map[string]any{},
		"count": 2,
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	m := got.(map[string]any)
	if _, ok := m["gone"]; ok {
		t.Error("nil entry not pruned")
	}
	if _, ok := m["empty"]; ok {
		t.Error("empty object not pruned")
	}
	if m["count"] != float64(2) {
		t.Errorf("count = %#v, want float64(2)", m["count"])
	}
	if d := m["dog"].(map[string]any); d["name"] != "Rex" || d["age"] != float64(3) {
		t.Errorf("dog = %#v", d)
	}

	if v, _ := Normalize(map[string]any{"a": nil}); v != nil {
		t.Errorf("all-nil object normalized to %#v, want nil", v)
	}
}

func TestDecodeKeepsEmptyContainers(t *testing.T) {
	got, err := Decode(map[string]any{"tags": []string{}, "meta": map[string]int{}, "n": 1})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m := got.(map[string]any)
	if tags, ok := m["tags"].([]any); !ok || len(tags) != 0 {
		t.Errorf("tags = %#v, want empty []any", m["tags"])
	}
	if meta, ok := m["meta"].(map[string]any); !ok || len(meta) != 0 {
		t.Errorf("meta = %#v, want empty map", m["meta"])
	}
	if m["n"] != float64(1) {
		t.Errorf("n = %#v, want float64(1)", m["n"])
	}
}

func TestCompare(t *testing.T) {
	ordered := []any{nil, false, true, -1, 0.5, 2, "", "A", "a", "ab", "ab\uf8ff", "b", map[string]any{"x": 1.0}}
	for i := 0; i < len(ordered)-1; i++ {
		if c := Compare(ordered[i], ordered[i+1]); c >= 0 {
			t.Errorf("Compare(%#v, %#v) = %d, want < 0", ordered[i], ordered[i+1], c)
		}
		if c := Compare(ordered[i+1], ordered[i]); c <= 0 {
			t.Errorf("Compare(%#v, %#v) = %d, want > 0", ordered[i+1], ordered[i], c)
		}
	}
	if Compare(3, 3.0) != 0 {
		t.Error("int and float64 of equal value should compare equal")
	}
}

func TestApplyQuery(t *testing.T) {
	children := []Snapshot{
		{Key: "c", Value: map[string]any{"name": "abe", "age": 30.0}},
		{Key: "a", Value: map[string]any{"name": "ac", "age": 20.0}},
		{Key: "b", Value: map[string]any{"name": "ab", "age": 30.0}},
		{Key: "d", Value: map[string]any{"name": "a"}},
	}

	keys := func(s []Snapshot) []string {
		var out []string
		for _, c := range s {
			out = append(out, c.Key)
		}
		return out
	}

	for _, tc := range []struct {
		name string
		q    *Query
		want []string
	}{
		{"nil query is key order", nil, []string{"a", "b", "c", "d"}},
		{"equality", EqualTo("age", 30), []string{"b", "c"}},
		{"prefix", Between("name", "ab", "ab\uf8ff"), []string{"b", "c"}},
		{"open end", &Query{OrderBy: "age", Start: 25}, []string{"b", "c"}},
		{"order by value", &Query{OrderBy: "name"}, []string{"d", "b", "c", "a"}},
		{"key range", &Query{Start: "b", End: "c"}, []string{"b", "c"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := keys(ApplyQuery(children, tc.q))
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestDiffChildren(t *testing.T) {
	before := map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}
	after := map[string]any{"b": 2.0, "c": 4.0, "d": 5.0}

	evs := DiffChildren(before, after)
	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(evs), evs)
	}
	want := []struct {
		typ EventType
		key string
		val any
	}{
		{ChildRemoved, "a", 1.0},
		{ChildAdded, "d", 5.0},
		{ChildChanged, "c", 4.0},
	}
	for i, w := range want {
		if evs[i].Type != w.typ || evs[i].Snapshot.Key != w.key || evs[i].Snapshot.Value != w.val {
			t.Errorf("event %d = %+v, want %+v", i, evs[i], w)
		}
	}
}

func TestDiffChildrenCopiesValues(t *testing.T) {
	before := map[string]any{"a": map[string]any{"name": "x"}}
	after := map[string]any{
		"a": map[string]any{"name": "y"},
		"b": map[string]any{"name": "z"},
	}
	for _, ev := range DiffChildren(before, after) {
		ev.Snapshot.Value.(map[string]any)["name"] = "mutated"
	}
	if before["a"].(map[string]any)["name"] != "x" {
		t.Errorf("before mutated through event: %#v", before)
	}
	if after["a"].(map[string]any)["name"] != "y" || after["b"].(map[string]any)["name"] != "z" {
		t.Errorf("after mutated through event: %#v", after)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := map[string]any{"tags": []any{"x"}, "meta": map[string]any{"n": 1.0}}
	c := Clone(orig).(map[string]any)
	c["tags"].([]any)[0] = "y"
	c["meta"].(map[string]any)["n"] = 2.0
	if orig["tags"].([]any)[0] != "x" || orig["meta"].(map[string]any)["n"] != 1.0 {
		t.Errorf("Clone shares state with original: %#v", orig)
	}
}
