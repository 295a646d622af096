package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// PrefixEnd is appended to a prefix to form the upper bound of a prefix
// range. It sorts after every character a stored key normally uses.
const PrefixEnd = "\uf8ff"

// ListKind selects the semantics of the list transactions.
type ListKind int

const (
	// OrderedList appends always and removes the first match only.
	OrderedList ListKind = iota
	// UniqueList appends idempotently and removes every match.
	UniqueList
)

func (k ListKind) String() string {
	if k == UniqueList {
		return "unique"
	}
	return "ordered"
}

// Eq is an equality constraint on one field.
type Eq struct {
	Field string
	Value any
}

// Bound is a closed range constraint on one field.
type Bound struct {
	Field string
	Lo    any
	Hi    any
}

// Validator checks fields before they are written. partial is true for
// merges, where absent fields are left untouched.
type Validator func(fields map[string]any, partial bool) error

// Collection is the set of records stored under one path.
type Collection struct {
	ds       store.Datastore
	path     string
	name     string
	now      func() time.Time
	logger   *slog.Logger
	validate Validator
}

// Option configures a Collection.
type Option func(*Collection)

// WithName sets the name used in String output. Defaults to the path.
func WithName(name string) Option {
	return func(c *Collection) { c.name = name }
}

// WithClock replaces the clock used for the updated stamp.
func WithClock(now func() time.Time) Option {
	return func(c *Collection) { c.now = now }
}

// WithLogger sets the logger used by listeners.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collection) { c.logger = l }
}

// WithValidator installs a check run before creates and updates.
func WithValidator(v Validator) Option {
	return func(c *Collection) { c.validate = v }
}

// NewCollection binds a collection to path.
func NewCollection(ds store.Datastore, path string, opts ...Option) (*Collection, error) {
	if ds == nil {
		return nil, errors.New("new collection: nil datastore")
	}
	if err := store.ValidatePath(path); err != nil {
		return nil, fmt.Errorf("new collection: %w", err)
	}
	c := &Collection{
		ds:     ds,
		path:   store.Join(path),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.name == "" {
		c.name = c.path
	}
	return c, nil
}

// Path returns the collection path.
func (c *Collection) Path() string { return c.path }

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Datastore returns the underlying datastore.
func (c *Collection) Datastore() store.Datastore { return c.ds }

func (c *Collection) keyPath(key string) (string, error) {
	if !store.ValidKey(key) {
		return "", fmt.Errorf("%w: key %q", store.ErrInvalidPath, key)
	}
	return store.Join(c.path, key), nil
}

func (c *Collection) stamp(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[UpdatedField] = c.now().UnixMilli()
	return out
}

func (c *Collection) records(children []store.Snapshot) []*Record {
	out := make([]*Record, 0, len(children))
	for _, s := range children {
		out = append(out, c.fromSnapshot(s, EventValue))
	}
	return out
}

// Exists reports whether a node is stored at key. Absence is not an error.
func (c *Collection) Exists(ctx context.Context, key string) (bool, error) {
	p, err := c.keyPath(key)
	if err != nil {
		return false, err
	}
	snap, err := c.ds.Get(ctx, p)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", p, err)
	}
	return snap.Exists(), nil
}

// AllExist reports whether every key exists, stopping at the first missing.
func (c *Collection) AllExist(ctx context.Context, keys ...string) (bool, error) {
	for _, k := range keys {
		ok, err := c.Exists(ctx, k)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// GetByKey reads one record.
func (c *Collection) GetByKey(ctx context.Context, key string) (*Record, error) {
	p, err := c.keyPath(key)
	if err != nil {
		return nil, err
	}
	snap, err := c.ds.Get(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	if !snap.Exists() {
		return nil, fmt.Errorf("get %s: %w", p, ErrNotFound)
	}
	return c.fromSnapshot(snap, EventValue), nil
}

// GetAll reads every record in key order.
func (c *Collection) GetAll(ctx context.Context) ([]*Record, error) {
	children, err := c.ds.Children(ctx, c.path, nil)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.path, err)
	}
	return c.records(children), nil
}

// GetAllByKeys reads every record and keeps those whose key is listed.
func (c *Collection) GetAllByKeys(ctx context.Context, keys ...string) ([]*Record, error) {
	all, err := c.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := all[:0]
	for _, r := range all {
		if want[r.key] {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetAllByFields returns the records matching every constraint. The first
// constraint is answered by the datastore; all of them are then re-checked
// with LooseEqual. With no constraints it returns every record.
func (c *Collection) GetAllByFields(ctx context.Context, eqs ...Eq) ([]*Record, error) {
	if len(eqs) == 0 {
		return c.GetAll(ctx)
	}
	primary, err := store.Normalize(eqs[0].Value)
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", c.path, eqs[0].Field, err)
	}
	children, err := c.ds.Children(ctx, c.path, store.EqualTo(eqs[0].Field, primary))
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", c.path, eqs[0].Field, err)
	}
	out := make([]*Record, 0, len(children))
	for _, r := range c.records(children) {
		if r.matchesAll(eqs) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (r *Record) matchesAll(eqs []Eq) bool {
	for _, eq := range eqs {
		if !LooseEqual(r.value[eq.Field], eq.Value) {
			return false
		}
	}
	return true
}

// GetAllByBounds returns the records whose fields lie in every closed range.
// The first bound is answered by the datastore; the rest are checked here.
func (c *Collection) GetAllByBounds(ctx context.Context, bounds ...Bound) ([]*Record, error) {
	if len(bounds) == 0 {
		return c.GetAll(ctx)
	}
	norm := make([]Bound, len(bounds))
	for i, b := range bounds {
		lo, err := store.Normalize(b.Lo)
		if err != nil {
			return nil, fmt.Errorf("query %s by %s: %w", c.path, b.Field, err)
		}
		hi, err := store.Normalize(b.Hi)
		if err != nil {
			return nil, fmt.Errorf("query %s by %s: %w", c.path, b.Field, err)
		}
		norm[i] = Bound{Field: b.Field, Lo: lo, Hi: hi}
	}
	children, err := c.ds.Children(ctx, c.path, store.Between(norm[0].Field, norm[0].Lo, norm[0].Hi))
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", c.path, norm[0].Field, err)
	}
	out := make([]*Record, 0, len(children))
next:
	for _, r := range c.records(children) {
		for _, b := range norm[1:] {
			v := r.value[b.Field]
			if v == nil || !store.InRange(v, b.Lo, b.Hi) {
				continue next
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// GetAllThatStartsWith returns the records whose field value begins with
// prefix, ordered by that field.
func (c *Collection) GetAllThatStartsWith(ctx context.Context, field, prefix string) ([]*Record, error) {
	return c.GetAllByBounds(ctx, Bound{Field: field, Lo: prefix, Hi: prefix + PrefixEnd})
}

// DeleteByKey removes a record and returns its last value.
func (c *Collection) DeleteByKey(ctx context.Context, key string) (*Record, error) {
	r, err := c.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := c.ds.Remove(ctx, r.Path()); err != nil {
		return nil, fmt.Errorf("delete %s: %w", r.Path(), err)
	}
	return r, nil
}

// UpdateByKey merges fields into an existing record, stamps the update time
// and returns the stored result.
func (c *Collection) UpdateByKey(ctx context.Context, key string, fields map[string]any) (*Record, error) {
	p, err := c.keyPath(key)
	if err != nil {
		return nil, err
	}
	ok, err := c.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("update %s: %w", p, ErrNotFound)
	}
	if c.validate != nil {
		if err := c.validate(fields, true); err != nil {
			return nil, fmt.Errorf("update %s: %w", p, err)
		}
	}
	if err := c.ds.Update(ctx, p, c.stamp(fields)); err != nil {
		return nil, fmt.Errorf("update %s: %w", p, err)
	}
	return c.GetByKey(ctx, key)
}

// CreateByAutoKey stores fields under a generated, time-ordered key.
func (c *Collection) CreateByAutoKey(ctx context.Context, fields map[string]any) (*Record, error) {
	if c.validate != nil {
		if err := c.validate(fields, false); err != nil {
			return nil, fmt.Errorf("create in %s: %w", c.path, err)
		}
	}
	key, err := c.ds.Push(ctx, c.path, c.stamp(fields))
	if err != nil {
		return nil, fmt.Errorf("create in %s: %w", c.path, err)
	}
	return c.GetByKey(ctx, key)
}

// CreateByManualKey stores fields under key. The existence check and the
// write are one datastore transaction.
func (c *Collection) CreateByManualKey(ctx context.Context, key string, fields map[string]any) (*Record, error) {
	p, err := c.keyPath(key)
	if err != nil {
		return nil, err
	}
	if c.validate != nil {
		if err := c.validate(fields, false); err != nil {
			return nil, fmt.Errorf("create %s: %w", p, err)
		}
	}
	value := c.stamp(fields)
	committed, _, err := c.ds.Transaction(ctx, p, func(current any) (any, error) {
		if current != nil {
			return nil, ErrAlreadyExists
		}
		return value, nil
	})
	if errors.Is(err, ErrAlreadyExists) {
		return nil, fmt.Errorf("create %s: %w", p, ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", p, err)
	}
	if !committed {
		return nil, fmt.Errorf("create %s: %w", p, ErrTransactionAborted)
	}
	return c.GetByKey(ctx, key)
}

// Transaction atomically replaces one field of a record with fn(current) and
// returns the record afterwards. fn receives nil when the field is absent and
// may run several times. The update stamp is not touched.
func (c *Collection) Transaction(ctx context.Context, key, field string, fn store.TransactionFunc) (*Record, error) {
	p, err := c.keyPath(key)
	if err != nil {
		return nil, err
	}
	if !store.ValidKey(field) {
		return nil, fmt.Errorf("%w: field %q", store.ErrInvalidPath, field)
	}
	fp := store.Join(p, field)
	committed, _, err := c.ds.Transaction(ctx, fp, fn)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", fp, err)
	}
	if !committed {
		return nil, fmt.Errorf("transaction %s: %w", fp, ErrTransactionAborted)
	}
	return c.GetByKey(ctx, key)
}

// TransactNum atomically adds delta to a numeric field, treating absent as 0.
func (c *Collection) TransactNum(ctx context.Context, key, field string, delta float64) (*Record, error) {
	return c.Transaction(ctx, key, field, func(current any) (any, error) {
		if current == nil {
			return delta, nil
		}
		n, ok := store.AsNumber(current)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrNotNumber, current)
		}
		return n + delta, nil
	})
}

// TransactAppendToList atomically appends v to a list field.
func (c *Collection) TransactAppendToList(ctx context.Context, key, field string, v any, kind ListKind) (*Record, error) {
	item, err := store.Normalize(v)
	if err != nil {
		return nil, fmt.Errorf("append to %s: %w", field, err)
	}
	return c.Transaction(ctx, key, field, func(current any) (any, error) {
		list, err := asList(current)
		if err != nil {
			return nil, err
		}
		if kind == UniqueList && indexOf(list, item) >= 0 {
			return list, nil
		}
		return append(list, item), nil
	})
}

// TransactRemoveFromList atomically removes v from a list field. Removing an
// absent value is a no-op.
func (c *Collection) TransactRemoveFromList(ctx context.Context, key, field string, v any, kind ListKind) (*Record, error) {
	item, err := store.Normalize(v)
	if err != nil {
		return nil, fmt.Errorf("remove from %s: %w", field, err)
	}
	return c.Transaction(ctx, key, field, func(current any) (any, error) {
		list, err := asList(current)
		if err != nil {
			return nil, err
		}
		if kind == OrderedList {
			if i := indexOf(list, item); i >= 0 {
				list = append(list[:i], list[i+1:]...)
			}
			return list, nil
		}
		out := list[:0]
		for _, x := range list {
			if !store.Equal(x, item) {
				out = append(out, x)
			}
		}
		return out, nil
	})
}

func asList(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return t, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrNotList, v)
}

func indexOf(list []any, item any) int {
	for i, x := range list {
		if store.Equal(x, item) {
			return i
		}
	}
	return -1
}
