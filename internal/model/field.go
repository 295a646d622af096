package model

import (
	"encoding/json"
	"fmt"
)

// Field is a typed accessor for one entity field. Values are converted
// through JSON, so a Field[int] reads the stored float64 and a struct type
// reads an object field.
type Field[T any] struct {
	Name string
}

// NewField returns the accessor of the named field.
func NewField[T any](name string) Field[T] {
	return Field[T]{Name: name}
}

// Get returns the field value. ok is false when the field is absent.
func (f Field[T]) Get(e *Entity) (v T, ok bool, err error) {
	raw := e.Record.Get(f.Name)
	if raw == nil {
		return v, false, nil
	}
	if t, isT := raw.(T); isT {
		return t, true, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return v, false, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, false, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return v, true, nil
}

// Set stores v through Entity.Set.
func (f Field[T]) Set(e *Entity, v T) error {
	return e.Set(f.Name, v)
}
