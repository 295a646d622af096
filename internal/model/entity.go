package model

import (
	"context"
	"fmt"

	"github.com/Krajiyah/firebase-admin-util/internal/listener"
	"github.com/Krajiyah/firebase-admin-util/internal/record"
	"github.com/Krajiyah/firebase-admin-util/internal/schema"
)

// Entity is a record of one declared entity type. Remote operations promoted
// from *record.Record update the entity in place.
type Entity struct {
	*record.Record
	model *Model
}

// Model returns the entity's model.
func (e *Entity) Model() *Model { return e.model }

func (e *Entity) field(name string) (schema.Field, error) {
	f, ok := e.model.entity.Field(name)
	if !ok {
		return schema.Field{}, fmt.Errorf("%s.%s: %w", e.model.Name(), name, ErrUnknownField)
	}
	return f, nil
}

// Set changes a scalar field locally and marks the entity unsynced.
// Reference fields are read-only here; write their keys with Update or the
// list transactions.
func (e *Entity) Set(name string, v any) error {
	f, err := e.field(name)
	if err != nil {
		return err
	}
	if f.Kind != schema.KindScalar {
		return fmt.Errorf("%s.%s: %w", e.model.Name(), name, ErrReadOnlyField)
	}
	if e.model.validate && v != nil {
		if err := f.Check(v); err != nil {
			return &schema.ValidationError{Errors: []schema.FieldError{{Field: name, Message: err.Error()}}}
		}
	}
	e.Record.Set(name, v)
	return nil
}

// Ref returns an unsynced placeholder of the entity referenced by a
// single-reference field, or nil when the field is empty. Fetch populates
// it.
func (e *Entity) Ref(name string) (*Entity, error) {
	f, target, err := e.refField(name, schema.KindRef)
	if err != nil {
		return nil, err
	}
	switch key := e.Record.Get(name).(type) {
	case nil:
		return nil, nil
	case string:
		return target.Placeholder(key), nil
	default:
		return nil, fmt.Errorf("%s.%s: stored %T is not a %s key", e.model.Name(), f.Name, key, f.Ref)
	}
}

// Refs returns one unsynced placeholder per key of a reference-list field.
func (e *Entity) Refs(name string) ([]*Entity, error) {
	f, target, err := e.refField(name, schema.KindRefList)
	if err != nil {
		return nil, err
	}
	raw := e.Record.Get(name)
	if raw == nil {
		return nil, nil
	}
	keys, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s.%s: stored %T is not a key list", e.model.Name(), f.Name, raw)
	}
	out := make([]*Entity, 0, len(keys))
	for _, k := range keys {
		s, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("%s.%s: stored %T is not a %s key", e.model.Name(), f.Name, k, f.Ref)
		}
		out = append(out, target.Placeholder(s))
	}
	return out, nil
}

func (e *Entity) refField(name string, kind schema.Kind) (schema.Field, *Model, error) {
	f, err := e.field(name)
	if err != nil {
		return f, nil, err
	}
	if f.Kind != kind {
		return f, nil, fmt.Errorf("%s.%s is %s: %w", e.model.Name(), name, f.Kind, ErrNotReference)
	}
	target, err := e.model.reg.Get(f.Ref)
	if err != nil {
		return f, nil, err
	}
	return f, target, nil
}

// AppendToList atomically appends v to a declared list field, using the
// field's declared list semantics.
func (e *Entity) AppendToList(ctx context.Context, name string, v any) error {
	f, err := e.model.listField(name)
	if err != nil {
		return err
	}
	return e.Record.TransactAppendToList(ctx, name, v, f.ListKind())
}

// RemoveFromList atomically removes v from a declared list field.
func (e *Entity) RemoveFromList(ctx context.Context, name string, v any) error {
	f, err := e.model.listField(name)
	if err != nil {
		return err
	}
	return e.Record.TransactRemoveFromList(ctx, name, v, f.ListKind())
}

// ListenForChanges is record.Record.ListenForChanges emitting entities.
func (e *Entity) ListenForChanges(ctx context.Context, field string, emit func(*Entity)) (*listener.Listener, error) {
	return e.Record.ListenForChanges(ctx, field, func(r *record.Record) { emit(e.model.Cast(r)) })
}
