// Package record implements the generic record engine: a Collection bound to
// one datastore path and the Record values it reads and writes.
//
// A Record owns a private copy of its node's fields. Nothing is synchronized
// implicitly; callers pull with Fetch and push with Push or Update.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// UpdatedField is the reserved field stamped with the epoch milliseconds of
// the last create or update.
const UpdatedField = "_updated"

// Event tags how a record came to be in memory.
type Event string

const (
	EventValue   Event = "value"
	EventAdded   Event = "added"
	EventChanged Event = "changed"
	EventRemoved Event = "removed"
)

func eventFor(t store.EventType) Event {
	switch t {
	case store.ChildAdded:
		return EventAdded
	case store.ChildChanged:
		return EventChanged
	case store.ChildRemoved:
		return EventRemoved
	}
	return EventValue
}

// Record is one node under a collection path.
type Record struct {
	coll   *Collection
	key    string
	value  map[string]any
	event  Event
	synced bool
}

func (c *Collection) fromSnapshot(snap store.Snapshot, ev Event) *Record {
	m, _ := snap.Value.(map[string]any)
	return &Record{coll: c, key: snap.Key, value: m, event: ev, synced: true}
}

// Placeholder returns an unsynced record holding only key. Its value stays
// nil until Fetch.
func (c *Collection) Placeholder(key string) *Record {
	return &Record{coll: c, key: key, event: EventValue}
}

// Rebind returns a copy of r bound to c, keeping its key, value, event and
// sync state. It issues no datastore call.
func (c *Collection) Rebind(r *Record) *Record {
	return &Record{coll: c, key: r.key, value: r.Value(), event: r.event, synced: r.synced}
}

// Collection returns the collection the record belongs to.
func (r *Record) Collection() *Collection { return r.coll }

// Key returns the record key, or "" if it has never been persisted.
func (r *Record) Key() string { return r.key }

// Event returns the provenance tag.
func (r *Record) Event() Event { return r.event }

// Synced reports whether the local value is known to match the datastore.
func (r *Record) Synced() bool { return r.synced }

// Exists reports whether the record holds a value.
func (r *Record) Exists() bool { return r.value != nil }

// Path returns the datastore path of the record node.
func (r *Record) Path() string { return store.Join(r.coll.path, r.key) }

// Value returns a copy of the field map. It is nil for placeholders and
// deleted records.
func (r *Record) Value() map[string]any {
	if r.value == nil {
		return nil
	}
	return store.Clone(r.value).(map[string]any)
}

// Get returns a copy of one field value.
func (r *Record) Get(field string) any {
	return store.Clone(r.value[field])
}

// Set changes one field locally and marks the record unsynced.
func (r *Record) Set(field string, v any) {
	if r.value == nil {
		r.value = make(map[string]any)
	}
	r.value[field] = v
	r.synced = false
}

// TimeUpdated returns the time of the last create or update, or the zero
// time when the record was never stamped.
func (r *Record) TimeUpdated() time.Time {
	ms, ok := store.AsNumber(r.value[UpdatedField])
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}

// Document is the plain key/value projection of a record.
type Document struct {
	Key   string         `json:"key"`
	Value map[string]any `json:"value"`
}

// JSON returns the plain projection of the record.
func (r *Record) JSON() Document {
	return Document{Key: r.key, Value: r.Value()}
}

// JSONAll projects every record.
func JSONAll(records []*Record) []Document {
	docs := make([]Document, len(records))
	for i, r := range records {
		docs[i] = r.JSON()
	}
	return docs
}

// MarshalJSON encodes the record as its Document.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.JSON())
}

// String renders the record for debugging, tagged with the collection name.
func (r *Record) String() string {
	b, err := json.MarshalIndent(struct {
		Event Event          `json:"_event"`
		Path  string         `json:"_ref"`
		Key   string         `json:"_key"`
		Value map[string]any `json:"_value"`
	}{r.event, r.coll.path, r.key, r.value}, "", "  ")
	if err != nil {
		return fmt.Sprintf("%s %s/%s", r.coll.name, r.coll.path, r.key)
	}
	return r.coll.name + " " + string(b)
}

func (r *Record) copyFrom(src *Record) {
	r.value = src.value
	r.synced = true
}

// Push sends the local value to the datastore. A record without a key is
// created under a generated key.
func (r *Record) Push(ctx context.Context) error {
	fields := r.Value()
	if fields == nil {
		fields = map[string]any{}
	}
	if r.key == "" {
		created, err := r.coll.CreateByAutoKey(ctx, fields)
		if err != nil {
			return err
		}
		r.key = created.key
		r.copyFrom(created)
		return nil
	}
	delete(fields, UpdatedField)
	updated, err := r.coll.UpdateByKey(ctx, r.key, fields)
	if err != nil {
		return err
	}
	r.copyFrom(updated)
	return nil
}

// Fetch discards the local value and reloads it.
func (r *Record) Fetch(ctx context.Context) error {
	if r.key == "" {
		return ErrNoKey
	}
	got, err := r.coll.GetByKey(ctx, r.key)
	if err != nil {
		return err
	}
	r.copyFrom(got)
	return nil
}

// Delete removes the node and nils the local value. The record stays usable
// and is synced, since no value is now the stored truth.
func (r *Record) Delete(ctx context.Context) error {
	if r.key == "" {
		return ErrNoKey
	}
	if _, err := r.coll.DeleteByKey(ctx, r.key); err != nil {
		return err
	}
	r.value = nil
	r.synced = true
	return nil
}

// Update merges fields into the node and reloads the record.
func (r *Record) Update(ctx context.Context, fields map[string]any) error {
	return r.apply(func() (*Record, error) { return r.coll.UpdateByKey(ctx, r.key, fields) })
}

// Transaction runs fn on one field of the node. See Collection.Transaction.
func (r *Record) Transaction(ctx context.Context, field string, fn store.TransactionFunc) error {
	return r.apply(func() (*Record, error) { return r.coll.Transaction(ctx, r.key, field, fn) })
}

// TransactNum atomically adds delta to a numeric field.
func (r *Record) TransactNum(ctx context.Context, field string, delta float64) error {
	return r.apply(func() (*Record, error) { return r.coll.TransactNum(ctx, r.key, field, delta) })
}

// TransactAppendToList atomically appends v to a list field.
func (r *Record) TransactAppendToList(ctx context.Context, field string, v any, kind ListKind) error {
	return r.apply(func() (*Record, error) { return r.coll.TransactAppendToList(ctx, r.key, field, v, kind) })
}

// TransactRemoveFromList atomically removes v from a list field.
func (r *Record) TransactRemoveFromList(ctx context.Context, field string, v any, kind ListKind) error {
	return r.apply(func() (*Record, error) { return r.coll.TransactRemoveFromList(ctx, r.key, field, v, kind) })
}

func (r *Record) apply(op func() (*Record, error)) error {
	if r.key == "" {
		return ErrNoKey
	}
	got, err := op()
	if err != nil {
		return err
	}
	r.copyFrom(got)
	return nil
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
