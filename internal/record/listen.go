package record

import (
	"context"
	"errors"

	"github.com/Krajiyah/firebase-admin-util/internal/listener"
	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// ListenForQuery emits every record added, changed or removed under the
// collection path, starting with an added event per existing record. When
// value is non-nil only records whose field loosely equals value are
// emitted; removed records carry their last value. The listener runs until
// ctx is done or Stop is called.
func (c *Collection) ListenForQuery(ctx context.Context, field string, value any, emit func(*Record)) (*listener.Listener, error) {
	return c.listenQuery(ctx, field, value, listener.Continuous, func(r *Record) bool {
		emit(r)
		return true
	})
}

// ListenForQueryOnce is ListenForQuery in fire-once mode: each event channel
// detaches after the first record for which emit returns true.
func (c *Collection) ListenForQueryOnce(ctx context.Context, field string, value any, emit func(*Record) bool) (*listener.Listener, error) {
	return c.listenQuery(ctx, field, value, listener.Once, emit)
}

func (c *Collection) listenQuery(ctx context.Context, field string, value any, mode listener.Mode, emit func(*Record) bool) (*listener.Listener, error) {
	l := listener.New(c.ds, c.path, func(typ store.EventType) listener.Handler {
		ev := eventFor(typ)
		return func(ce store.ChildEvent) bool {
			r := c.fromSnapshot(ce.Snapshot, ev)
			if field != "" && value != nil && !LooseEqual(r.value[field], value) {
				return false
			}
			return emit(r)
		}
	}, listener.WithMode(mode), listener.WithLogger(c.logger))
	if err := l.Listen(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// ListenForChanges watches the record's own node. Each add, change or remove
// of a child field (only field, when non-empty) re-reads the record and
// emits it tagged with the triggering event. A record deleted in the
// meantime is emitted with a nil value.
func (r *Record) ListenForChanges(ctx context.Context, field string, emit func(*Record)) (*listener.Listener, error) {
	if r.key == "" {
		return nil, ErrNoKey
	}
	c := r.coll
	key := r.key
	l := listener.New(c.ds, r.Path(), func(typ store.EventType) listener.Handler {
		ev := eventFor(typ)
		return func(ce store.ChildEvent) bool {
			if field != "" && ce.Snapshot.Key != field {
				return false
			}
			got, err := c.GetByKey(ctx, key)
			switch {
			case errors.Is(err, ErrNotFound):
				got = &Record{coll: c, key: key, synced: true}
			case err != nil:
				c.logger.Warn("refetch changed record failed", "path", store.Join(c.path, key), "err", err)
				return false
			}
			got.event = ev
			emit(got)
			return true
		}
	}, listener.WithLogger(c.logger))
	if err := l.Listen(ctx); err != nil {
		return nil, err
	}
	return l, nil
}
