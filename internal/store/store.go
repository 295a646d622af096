// Package store defines the hierarchical datastore contract consumed by the
// record engine, along with the value ordering, path, and diff helpers shared
// by every backend.
package store

import (
	"context"
	"errors"
)

// EventType names a child-level change notification.
type EventType string

const (
	ChildAdded   EventType = "child_added"
	ChildChanged EventType = "child_changed"
	ChildRemoved EventType = "child_removed"
)

// EventTypes lists the child event channels in subscription order.
var EventTypes = []EventType{ChildAdded, ChildChanged, ChildRemoved}

// Valid reports whether t is one of the known child event types.
func (t EventType) Valid() bool {
	switch t {
	case ChildAdded, ChildChanged, ChildRemoved:
		return true
	}
	return false
}

// MaxTransactionRetries bounds the optimistic retry loop of Transaction.
const MaxTransactionRetries = 25

var (
	// ErrAbort is returned by a TransactionFunc to abandon the transaction
	// without writing. The datastore reports it as committed == false.
	ErrAbort = errors.New("transaction aborted")

	// ErrInvalidPath is returned for paths containing illegal key characters.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidEventType is returned by Subscribe for an unknown event type.
	ErrInvalidEventType = errors.New("invalid event type")
)

// Snapshot is an immutable read of one node. A nil Value means the node does
// not exist.
type Snapshot struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Exists reports whether the snapshot holds a value.
func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Child returns the snapshot of the named direct child.
func (s Snapshot) Child(name string) Snapshot {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return Snapshot{Key: name}
	}
	return Snapshot{Key: name, Value: m[name]}
}

// ChildEvent is delivered to subscription handlers. For ChildRemoved the
// snapshot carries the last value observed before the removal.
type ChildEvent struct {
	Type     EventType
	Snapshot Snapshot
}

// Handler receives child events. Handlers run on a goroutine owned by the
// datastore, never on the goroutine that performed the write.
type Handler func(ChildEvent)

// TransactionFunc computes the new value of a node from its current value
// (nil when absent). It may be invoked several times and must not have side
// effects. Returning ErrAbort abandons the transaction; returning a nil value
// deletes the node.
type TransactionFunc func(current any) (any, error)

// Query constrains the children returned by Children. With an empty OrderBy
// children are ordered and bounded by key; otherwise by the value of the
// named child field. Nil bounds are open.
type Query struct {
	OrderBy string
	Start   any
	End     any
}

// EqualTo returns a query matching children whose field equals value.
func EqualTo(field string, value any) *Query {
	return &Query{OrderBy: field, Start: value, End: value}
}

// Between returns a query matching children whose field lies in [lo, hi].
func Between(field string, lo, hi any) *Query {
	return &Query{OrderBy: field, Start: lo, End: hi}
}

// Datastore is a hierarchical JSON tree addressed by slash-delimited paths.
type Datastore interface {
	// Get reads the node at path once.
	Get(ctx context.Context, path string) (Snapshot, error)

	// Children returns the direct children of path, filtered and ordered by q.
	// A nil q returns every child in key order.
	Children(ctx context.Context, path string, q *Query) ([]Snapshot, error)

	// Push stores value under a newly generated, time-ordered child key of
	// path and returns the key.
	Push(ctx context.Context, path string, value any) (string, error)

	// Set replaces the node at path. A nil value removes it.
	Set(ctx context.Context, path string, value any) error

	// Update merges fields into the node at path. Nil field values remove
	// the corresponding children.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Remove deletes the node at path and its descendants.
	Remove(ctx context.Context, path string) error

	// Transaction atomically replaces the node at path with fn(current),
	// retrying on conflicting writers. committed is false when fn aborted or
	// the retry budget ran out; the returned snapshot is the value at path
	// after the final attempt.
	Transaction(ctx context.Context, path string, fn TransactionFunc) (committed bool, snap Snapshot, err error)

	// Subscribe delivers child events of the given type for the children of
	// path until the returned cancel function is called. ctx bounds only the
	// initial registration.
	Subscribe(ctx context.Context, path string, typ EventType, h Handler) (cancel func(), err error)

	Close() error
}
