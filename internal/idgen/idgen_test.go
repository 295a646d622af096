package idgen

import (
	"regexp"
	"sort"
	"testing"
	"time"
)

func TestPushKey_Length(t *testing.T) {
	key, err := PushKey()
	if err != nil {
		t.Fatalf("PushKey() error: %v", err)
	}
	if len(key) != Length {
		t.Errorf("PushKey() length = %d, want %d (key=%q)", len(key), Length, key)
	}
}

func TestPushKey_Charset(t *testing.T) {
	pattern := regexp.MustCompile(`^[-0-9A-Z_a-z]{20}$`)
	for i := 0; i < 100; i++ {
		key, err := PushKey()
		if err != nil {
			t.Fatalf("PushKey() error on iteration %d: %v", i, err)
		}
		if !pattern.MatchString(key) {
			t.Fatalf("PushKey() = %q, does not match expected charset pattern", key)
		}
	}
}

func TestNext_UniqueAndOrderedWithinMillisecond(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	g := WithClock(func() time.Time { return frozen })

	const count = 10_000
	keys := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		key, err := g.Next()
		if err != nil {
			t.Fatalf("Next() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate key after %d generations: %q", i, key)
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if !sort.StringsAreSorted(keys) {
		t.Error("keys generated in one millisecond are not in creation order")
	}
}

func TestNext_OrderedAcrossTime(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	g := WithClock(func() time.Time { return now })

	first, _ := g.Next()
	now = now.Add(time.Millisecond)
	second, _ := g.Next()
	now = now.Add(time.Hour)
	third, _ := g.Next()

	if !(first < second && second < third) {
		t.Errorf("keys not increasing: %q %q %q", first, second, third)
	}
}

func TestTimestamp(t *testing.T) {
	at := time.UnixMilli(1_712_345_678_901)
	key, err := WithClock(func() time.Time { return at }).Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	got, err := Timestamp(key)
	if err != nil {
		t.Fatalf("Timestamp(%q) error: %v", key, err)
	}
	if !got.Equal(at) {
		t.Errorf("Timestamp(%q) = %v, want %v", key, got, at)
	}

	if _, err := Timestamp("short"); err == nil {
		t.Error("Timestamp(short) = nil error, want error")
	}
}

func TestIncrementCarries(t *testing.T) {
	digits := []int{0, 63, 63}
	increment(digits)
	if digits[0] != 1 || digits[1] != 0 || digits[2] != 0 {
		t.Errorf("increment = %v, want [1 0 0]", digits)
	}
}
