package model

import (
	"context"
	"fmt"

	"github.com/Krajiyah/firebase-admin-util/internal/listener"
	"github.com/Krajiyah/firebase-admin-util/internal/record"
	"github.com/Krajiyah/firebase-admin-util/internal/schema"
	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// Model is the collection of one entity type.
type Model struct {
	entity   *schema.Entity
	coll     *record.Collection
	reg      Registry
	validate bool
}

// Name returns the entity name.
func (m *Model) Name() string { return m.entity.Name }

// Path returns the datastore path of the entity collection.
func (m *Model) Path() string { return m.coll.Path() }

// Schema returns the compiled entity declaration.
func (m *Model) Schema() *schema.Entity { return m.entity }

// Collection returns the generic collection behind the model.
func (m *Model) Collection() *record.Collection { return m.coll }

// Cast wraps a generic record as an entity of this model without a
// datastore call. The entity keeps r's value, event and sync state.
func (m *Model) Cast(r *record.Record) *Entity {
	if r == nil {
		return nil
	}
	if r.Collection() != m.coll {
		r = m.coll.Rebind(r)
	}
	return &Entity{Record: r, model: m}
}

// CastMany casts every record.
func (m *Model) CastMany(rs []*record.Record) []*Entity {
	out := make([]*Entity, len(rs))
	for i, r := range rs {
		out[i] = m.Cast(r)
	}
	return out
}

// Placeholder returns an unsynced entity holding only key.
func (m *Model) Placeholder(key string) *Entity {
	return &Entity{Record: m.coll.Placeholder(key), model: m}
}

// New returns an unsaved entity with the given fields. Push stores it under
// a generated key.
func (m *Model) New(fields map[string]any) (*Entity, error) {
	e := m.Placeholder("")
	for k, v := range fields {
		if err := e.Set(k, v); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (m *Model) one(r *record.Record, err error) (*Entity, error) {
	if err != nil {
		return nil, err
	}
	return m.Cast(r), nil
}

func (m *Model) many(rs []*record.Record, err error) ([]*Entity, error) {
	if err != nil {
		return nil, err
	}
	return m.CastMany(rs), nil
}

func (m *Model) Exists(ctx context.Context, key string) (bool, error) {
	return m.coll.Exists(ctx, key)
}

func (m *Model) AllExist(ctx context.Context, keys ...string) (bool, error) {
	return m.coll.AllExist(ctx, keys...)
}

func (m *Model) GetByKey(ctx context.Context, key string) (*Entity, error) {
	return m.one(m.coll.GetByKey(ctx, key))
}

func (m *Model) GetAll(ctx context.Context) ([]*Entity, error) {
	return m.many(m.coll.GetAll(ctx))
}

func (m *Model) GetAllByKeys(ctx context.Context, keys ...string) ([]*Entity, error) {
	return m.many(m.coll.GetAllByKeys(ctx, keys...))
}

func (m *Model) GetAllByFields(ctx context.Context, eqs ...record.Eq) ([]*Entity, error) {
	return m.many(m.coll.GetAllByFields(ctx, eqs...))
}

func (m *Model) GetAllByBounds(ctx context.Context, bounds ...record.Bound) ([]*Entity, error) {
	return m.many(m.coll.GetAllByBounds(ctx, bounds...))
}

func (m *Model) GetAllThatStartsWith(ctx context.Context, field, prefix string) ([]*Entity, error) {
	return m.many(m.coll.GetAllThatStartsWith(ctx, field, prefix))
}

func (m *Model) DeleteByKey(ctx context.Context, key string) (*Entity, error) {
	return m.one(m.coll.DeleteByKey(ctx, key))
}

func (m *Model) UpdateByKey(ctx context.Context, key string, fields map[string]any) (*Entity, error) {
	return m.one(m.coll.UpdateByKey(ctx, key, fields))
}

func (m *Model) CreateByAutoKey(ctx context.Context, fields map[string]any) (*Entity, error) {
	return m.one(m.coll.CreateByAutoKey(ctx, fields))
}

func (m *Model) CreateByManualKey(ctx context.Context, key string, fields map[string]any) (*Entity, error) {
	return m.one(m.coll.CreateByManualKey(ctx, key, fields))
}

func (m *Model) Transaction(ctx context.Context, key, field string, fn store.TransactionFunc) (*Entity, error) {
	return m.one(m.coll.Transaction(ctx, key, field, fn))
}

func (m *Model) TransactNum(ctx context.Context, key, field string, delta float64) (*Entity, error) {
	return m.one(m.coll.TransactNum(ctx, key, field, delta))
}

// listField returns the descriptor of a declared list field.
func (m *Model) listField(name string) (schema.Field, error) {
	f, ok := m.entity.Field(name)
	if !ok {
		return schema.Field{}, fmt.Errorf("%s.%s: %w", m.Name(), name, ErrUnknownField)
	}
	if !f.IsList() {
		return schema.Field{}, fmt.Errorf("%s.%s: %w", m.Name(), name, record.ErrNotList)
	}
	return f, nil
}

// TransactAppendToList atomically appends v to a declared list field. Set
// fields append idempotently; array fields always append.
func (m *Model) TransactAppendToList(ctx context.Context, key, field string, v any) (*Entity, error) {
	f, err := m.listField(field)
	if err != nil {
		return nil, err
	}
	return m.one(m.coll.TransactAppendToList(ctx, key, field, v, f.ListKind()))
}

// TransactRemoveFromList atomically removes v from a declared list field.
// Set fields drop every match; array fields drop the first.
func (m *Model) TransactRemoveFromList(ctx context.Context, key, field string, v any) (*Entity, error) {
	f, err := m.listField(field)
	if err != nil {
		return nil, err
	}
	return m.one(m.coll.TransactRemoveFromList(ctx, key, field, v, f.ListKind()))
}

// ListenForQuery emits entities added, changed or removed under the model
// path, filtered by field loosely equal to value when value is non-nil.
func (m *Model) ListenForQuery(ctx context.Context, field string, value any, emit func(*Entity)) (*listener.Listener, error) {
	return m.coll.ListenForQuery(ctx, field, value, func(r *record.Record) { emit(m.Cast(r)) })
}

// ListenForQueryOnce is ListenForQuery with per-channel fire-once detach.
func (m *Model) ListenForQueryOnce(ctx context.Context, field string, value any, emit func(*Entity) bool) (*listener.Listener, error) {
	return m.coll.ListenForQueryOnce(ctx, field, value, func(r *record.Record) bool { return emit(m.Cast(r)) })
}
