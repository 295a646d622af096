// Package model specializes the generic record engine per declared entity
// type. A Registry holds one Model per entity; every Model operation returns
// *Entity values that expose the entity's declared fields and references.
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Krajiyah/firebase-admin-util/internal/record"
	"github.com/Krajiyah/firebase-admin-util/internal/schema"
	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

var (
	// ErrUnknownEntity is returned when a registry has no model of that name.
	ErrUnknownEntity = errors.New("unknown entity type")

	// ErrUnknownField is returned for fields the entity does not declare.
	ErrUnknownField = errors.New("unknown field")

	// ErrReadOnlyField is returned when setting a reference field through
	// the scalar accessor.
	ErrReadOnlyField = errors.New("field is read-only")

	// ErrNotReference is returned by Ref and Refs for non-reference fields.
	ErrNotReference = errors.New("field is not a reference")
)

// Registry maps entity names to their models.
type Registry map[string]*Model

type options struct {
	validate bool
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures NewRegistry.
type Option func(*options)

// WithValidation makes every model check writes against its declaration.
// Violations fail with *schema.ValidationError.
func WithValidation() Option {
	return func(o *options) { o.validate = true }
}

// WithClock replaces the clock used for update stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger passed to every collection.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewRegistry builds one Model per entity of s, each bound to its path in
// ds.
func NewRegistry(ds store.Datastore, s *schema.Schema, opts ...Option) (Registry, error) {
	if s == nil {
		return nil, errors.New("new registry: nil schema")
	}
	o := options{now: time.Now, logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}

	reg := make(Registry, len(s.Names()))
	for _, e := range s.Entities() {
		copts := []record.Option{
			record.WithName(e.Name),
			record.WithClock(o.now),
			record.WithLogger(o.logger.With("entity", e.Name)),
		}
		if o.validate {
			copts = append(copts, record.WithValidator(e.Validate))
		}
		coll, err := record.NewCollection(ds, e.Path, copts...)
		if err != nil {
			return nil, fmt.Errorf("new registry: entity %s: %w", e.Name, err)
		}
		reg[e.Name] = &Model{entity: e, coll: coll, reg: reg, validate: o.validate}
	}
	return reg, nil
}

// Get returns the named model.
func (r Registry) Get(name string) (*Model, error) {
	m, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return m, nil
}

// Names returns the entity names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
