// Package memory implements store.Datastore as an in-process JSON tree. It
// backs the CLI when no database is configured and every record-level test.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Krajiyah/firebase-admin-util/internal/idgen"
	"github.com/Krajiyah/firebase-admin-util/internal/store"
	"github.com/Krajiyah/firebase-admin-util/internal/store/watch"
)

// Store is an in-memory hierarchical datastore.
type Store struct {
	mu   sync.RWMutex
	root any

	keys   *idgen.Generator
	hub    *watch.Hub
	logger *slog.Logger
}

// Compile-time check that Store implements store.Datastore.
var _ store.Datastore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for subscription diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeyGenerator replaces the push key generator.
func WithKeyGenerator(g *idgen.Generator) Option {
	return func(s *Store) { s.keys = g }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{keys: idgen.New(), logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.hub = watch.NewHub(s, s.logger)
	return s
}

// Load creates a store seeded with the given tree.
func Load(tree map[string]any, opts ...Option) (*Store, error) {
	s := New(opts...)
	if err := s.Set(context.Background(), "", tree); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, path string) (store.Snapshot, error) {
	if err := store.ValidatePath(path); err != nil {
		return store.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.Snapshot{Key: store.Base(path), Value: store.Clone(store.Lookup(s.root, store.Split(path)))}, nil
}

func (s *Store) Children(ctx context.Context, path string, q *store.Query) ([]store.Snapshot, error) {
	if err := store.ValidatePath(path); err != nil {
		return nil, err
	}
	s.mu.RLock()
	m, _ := store.Lookup(s.root, store.Split(path)).(map[string]any)
	children := make([]store.Snapshot, 0, len(m))
	for k, v := range m {
		children = append(children, store.Snapshot{Key: k, Value: store.Clone(v)})
	}
	s.mu.RUnlock()
	return store.ApplyQuery(children, q), nil
}

func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	key, err := s.keys.Next()
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	if err := s.Set(ctx, store.Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	if err := store.ValidatePath(path); err != nil {
		return err
	}
	v, err := store.Normalize(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	s.mu.Lock()
	s.root = store.Assign(s.root, store.Split(path), v)
	s.mu.Unlock()
	s.hub.Notify(path)
	return nil
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := store.ValidatePath(path); err != nil {
		return err
	}
	type write struct {
		parts []string
		value any
	}
	writes := make([]write, 0, len(fields))
	for k, raw := range fields {
		if err := store.ValidatePath(k); err != nil || k == "" {
			return fmt.Errorf("update %s: %w: field %q", path, store.ErrInvalidPath, k)
		}
		v, err := store.Normalize(raw)
		if err != nil {
			return fmt.Errorf("update %s field %s: %w", path, k, err)
		}
		writes = append(writes, write{parts: store.Split(store.Join(path, k)), value: v})
	}
	if len(writes) == 0 {
		return nil
	}

	s.mu.Lock()
	for _, w := range writes {
		s.root = store.Assign(s.root, w.parts, w.value)
	}
	s.mu.Unlock()
	s.hub.Notify(path)
	return nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

func (s *Store) Transaction(ctx context.Context, path string, fn store.TransactionFunc) (bool, store.Snapshot, error) {
	if err := store.ValidatePath(path); err != nil {
		return false, store.Snapshot{}, err
	}
	parts := store.Split(path)
	key := store.Base(path)

	var current any
	for attempt := 0; attempt < store.MaxTransactionRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, store.Snapshot{}, err
		}

		s.mu.RLock()
		current = store.Clone(store.Lookup(s.root, parts))
		s.mu.RUnlock()

		next, err := fn(store.Clone(current))
		if errors.Is(err, store.ErrAbort) {
			return false, store.Snapshot{Key: key, Value: current}, nil
		}
		if err != nil {
			return false, store.Snapshot{}, fmt.Errorf("transaction %s: %w", path, err)
		}
		next, err = store.Normalize(next)
		if err != nil {
			return false, store.Snapshot{}, fmt.Errorf("transaction %s: %w", path, err)
		}

		s.mu.Lock()
		if !store.Equal(store.Lookup(s.root, parts), current) {
			s.mu.Unlock()
			continue
		}
		s.root = store.Assign(s.root, parts, next)
		s.mu.Unlock()

		s.hub.Notify(path)
		return true, store.Snapshot{Key: key, Value: store.Clone(next)}, nil
	}

	s.logger.Warn("transaction retries exhausted", "path", path, "attempts", store.MaxTransactionRetries)
	return false, store.Snapshot{Key: key, Value: current}, nil
}

func (s *Store) Subscribe(ctx context.Context, path string, typ store.EventType, h store.Handler) (func(), error) {
	return s.hub.Subscribe(ctx, path, typ, h)
}

// Close stops all subscriptions.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}
