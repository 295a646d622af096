package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// fakeReader serves children from a flat map keyed by child key.
type fakeReader struct {
	mu       sync.Mutex
	children map[string]any
	reads    int
}

func (f *fakeReader) Children(_ context.Context, _ string, q *store.Query) ([]store.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	var out []store.Snapshot
	for k, v := range f.children {
		out = append(out, store.Snapshot{Key: k, Value: v})
	}
	return store.ApplyQuery(out, q), nil
}

func (f *fakeReader) set(k string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v == nil {
		delete(f.children, k)
		return
	}
	f.children[k] = v
}

func collect(t *testing.T, h *Hub, path string, typ store.EventType) (<-chan store.ChildEvent, func()) {
	t.Helper()
	ch := make(chan store.ChildEvent, 16)
	cancel, err := h.Subscribe(context.Background(), path, typ, func(ev store.ChildEvent) { ch <- ev })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(cancel)
	return ch, cancel
}

func next(t *testing.T, ch <-chan store.ChildEvent) store.ChildEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return store.ChildEvent{}
}

func expectNone(t *testing.T, ch <-chan store.ChildEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ReplaysExistingChildren(t *testing.T) {
	r := &fakeReader{children: map[string]any{"a": 1.0, "b": 2.0}}
	h := NewHub(r, nil)
	defer h.Close()

	added, _ := collect(t, h, "Things", store.ChildAdded)
	if ev := next(t, added); ev.Snapshot.Key != "a" {
		t.Errorf("first replay key = %q, want a", ev.Snapshot.Key)
	}
	if ev := next(t, added); ev.Snapshot.Key != "b" {
		t.Errorf("second replay key = %q, want b", ev.Snapshot.Key)
	}
	expectNone(t, added)
}

func TestHub_DeliversDiffs(t *testing.T) {
	r := &fakeReader{children: map[string]any{"a": 1.0}}
	h := NewHub(r, nil)
	defer h.Close()

	added, _ := collect(t, h, "Things", store.ChildAdded)
	changed, _ := collect(t, h, "Things", store.ChildChanged)
	removed, _ := collect(t, h, "Things", store.ChildRemoved)
	next(t, added) // replay of "a"

	r.set("b", 2.0)
	h.Notify("Things/b")
	if ev := next(t, added); ev.Snapshot.Key != "b" || ev.Snapshot.Value != 2.0 {
		t.Errorf("added = %+v", ev)
	}

	r.set("a", 5.0)
	h.Notify("Things/a/value")
	if ev := next(t, changed); ev.Snapshot.Key != "a" || ev.Snapshot.Value != 5.0 {
		t.Errorf("changed = %+v", ev)
	}

	r.set("a", nil)
	h.Notify("Things")
	if ev := next(t, removed); ev.Snapshot.Key != "a" || ev.Snapshot.Value != 5.0 {
		t.Errorf("removed = %+v, want last value 5", ev)
	}

	expectNone(t, changed)
}

func TestHub_IgnoresUnrelatedPaths(t *testing.T) {
	r := &fakeReader{children: map[string]any{}}
	h := NewHub(r, nil)
	defer h.Close()

	added, _ := collect(t, h, "Things", store.ChildAdded)
	r.set("x", 1.0)
	h.Notify("Other/x")
	expectNone(t, added)
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	r := &fakeReader{children: map[string]any{}}
	h := NewHub(r, nil)
	defer h.Close()

	added, cancel := collect(t, h, "Things", store.ChildAdded)
	cancel()
	if n := h.Len(); n != 0 {
		t.Fatalf("Len after cancel = %d, want 0", n)
	}
	r.set("x", 1.0)
	h.Notify("Things/x")
	expectNone(t, added)
}

func TestHub_InvalidEventType(t *testing.T) {
	h := NewHub(&fakeReader{children: map[string]any{}}, nil)
	if _, err := h.Subscribe(context.Background(), "Things", "child_moved", func(store.ChildEvent) {}); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func (f *fakeReader) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func TestHub_NotifySharesReadPerPath(t *testing.T) {
	r := &fakeReader{children: map[string]any{"a": 1.0}}
	h := NewHub(r, nil)
	defer h.Close()

	added, _ := collect(t, h, "Things", store.ChildAdded)
	changed, _ := collect(t, h, "Things", store.ChildChanged)
	removed, _ := collect(t, h, "Things", store.ChildRemoved)
	next(t, added)

	before := r.readCount()
	r.set("a", 2.0)
	r.set("b", 3.0)
	h.Notify("Things/a")

	if got := r.readCount() - before; got != 1 {
		t.Errorf("Notify read children %d times, want 1", got)
	}
	if ev := next(t, added); ev.Snapshot.Key != "b" {
		t.Errorf("added key = %q, want b", ev.Snapshot.Key)
	}
	if ev := next(t, changed); ev.Snapshot.Key != "a" || ev.Snapshot.Value != 2.0 {
		t.Errorf("changed = %+v", ev)
	}
	expectNone(t, removed)
}
