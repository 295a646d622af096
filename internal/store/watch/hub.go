// Package watch turns write notifications into child events. A Hub keeps a
// cached copy of the children under each subscribed path and, whenever a
// related path is written, re-reads the children and queues the difference
// for delivery.
package watch

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// Reader is the read side of a datastore.
type Reader interface {
	Children(ctx context.Context, path string, q *store.Query) ([]store.Snapshot, error)
}

// Hub fans out child events to subscribers. It is safe for concurrent use.
type Hub struct {
	reader Reader
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

// NewHub creates a hub that reads children through r.
func NewHub(r Reader, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{reader: r, logger: logger, subs: make(map[uint64]*subscription)}
}

type subscription struct {
	id      uint64
	path    string
	typ     store.EventType
	handler store.Handler

	// refreshMu serializes read-and-diff so the cache moves through the
	// states it observes in order.
	refreshMu sync.Mutex
	cache     map[string]any

	mu      sync.Mutex
	pending []store.ChildEvent
	wake    chan struct{}

	done chan struct{}
	once sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscription) enqueue(evs []store.ChildEvent) {
	var matched bool
	s.mu.Lock()
	for _, ev := range evs {
		if ev.Type == s.typ {
			s.pending = append(s.pending, ev)
			matched = true
		}
	}
	s.mu.Unlock()
	if !matched {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) drain() []store.ChildEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.pending
	s.pending = nil
	return evs
}

// Subscribe registers h for events of type typ on the children of path.
// Existing children are replayed as ChildAdded events. The returned cancel
// function does not wait for an in-flight handler to return.
func (h *Hub) Subscribe(ctx context.Context, path string, typ store.EventType, handler store.Handler) (func(), error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidEventType, typ)
	}
	if err := store.ValidatePath(path); err != nil {
		return nil, err
	}

	sub := &subscription{
		path:    store.Join(path),
		typ:     typ,
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	// Register before the initial read so a racing write is not lost.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: hub closed", path)
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	h.mu.Unlock()

	go h.run(sub)

	// Diffing against an empty cache replays existing children as additions.
	if err := h.refresh(ctx, sub.path, sub); err != nil {
		sub.stop()
		h.remove(sub.id)
		return nil, fmt.Errorf("read children of %s: %w", path, err)
	}

	return func() {
		sub.stop()
		h.remove(sub.id)
	}, nil
}

// Notify re-reads the children of every subscribed path a write at path may
// have changed and queues the resulting events. Subscriptions on the same
// path share one read. It returns once the events are queued; handlers run
// later on the subscription goroutines.
func (h *Hub) Notify(path string) {
	h.mu.Lock()
	related := make(map[string][]*subscription)
	for _, sub := range h.subs {
		if store.Related(sub.path, path) {
			related[sub.path] = append(related[sub.path], sub)
		}
	}
	h.mu.Unlock()

	for p, subs := range related {
		if err := h.refresh(context.Background(), p, subs...); err != nil {
			h.logger.Warn("refresh subscriptions failed", "path", p, "err", err)
		}
	}
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops every subscription. Subsequent Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		sub.stop()
		delete(h.subs, id)
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// refresh reads the children of path once and diffs them into every sub.
// The subs are locked in id order for the whole read so each cache still
// moves through the states it observes in order.
func (h *Hub) refresh(ctx context.Context, path string, subs ...*subscription) error {
	slices.SortFunc(subs, func(a, b *subscription) int { return cmp.Compare(a.id, b.id) })
	live := subs[:0:0]
	for _, sub := range subs {
		sub.refreshMu.Lock()
		defer sub.refreshMu.Unlock()
		if !sub.stopped() {
			live = append(live, sub)
		}
	}
	if len(live) == 0 {
		return nil
	}
	children, err := h.reader.Children(ctx, path, nil)
	if err != nil {
		return err
	}
	// Caches may share next; it is only read, and events carry copies.
	next := store.ChildMap(children)
	for _, sub := range live {
		sub.enqueue(store.DiffChildren(sub.cache, next))
		sub.cache = next
	}
	return nil
}

func (h *Hub) run(sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}
		for _, ev := range sub.drain() {
			if sub.stopped() {
				return
			}
			sub.handler(ev)
		}
	}
}
