// Package postgres implements store.Datastore on top of PostgreSQL. The tree
// is stored one leaf per row; change notices are shared with other processes
// over NATS so their subscriptions observe writes made here.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Krajiyah/firebase-admin-util/internal/events"
	"github.com/Krajiyah/firebase-admin-util/internal/idgen"
	"github.com/Krajiyah/firebase-admin-util/internal/store"
	"github.com/Krajiyah/firebase-admin-util/internal/store/watch"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// serializationFailure is the SQLSTATE reported when a serializable
// transaction loses a conflict.
const serializationFailure = "40001"

// errConflict signals that the value changed between read and commit.
var errConflict = errors.New("value changed concurrently")

// Store implements store.Datastore backed by a PostgreSQL database.
type Store struct {
	db     *sql.DB
	origin string

	keys       *idgen.Generator
	hub        *watch.Hub
	logger     *slog.Logger
	publisher  events.Publisher
	remote     events.Subscriber
	stopRemote func()
}

// Compile-time check that Store implements store.Datastore.
var _ store.Datastore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPublisher announces every committed write on p.
func WithPublisher(p events.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithSubscriber feeds change notices from other processes into the local
// subscriptions.
func WithSubscriber(sub events.Subscriber) Option {
	return func(s *Store) { s.remote = sub }
}

// WithKeyGenerator replaces the push key generator.
func WithKeyGenerator(g *idgen.Generator) Option {
	return func(s *Store) { s.keys = g }
}

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s, err := newStore(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newStore(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:        db,
		origin:    uuid.NewString(),
		keys:      idgen.New(),
		logger:    slog.Default(),
		publisher: &events.NoopPublisher{},
	}
	for _, o := range opts {
		o(s)
	}
	s.hub = watch.NewHub(s, s.logger)

	if s.remote != nil {
		ch, cancel, err := s.remote.Subscribe(events.TopicNodeAll)
		if err != nil {
			return nil, fmt.Errorf("subscribe to node changes: %w", err)
		}
		s.stopRemote = cancel
		go s.consumeRemote(ch)
	}
	return s, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close stops subscriptions and closes the database connection.
func (s *Store) Close() error {
	if s.stopRemote != nil {
		s.stopRemote()
	}
	s.hub.Close()
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, path string) (store.Snapshot, error) {
	if err := store.ValidatePath(path); err != nil {
		return store.Snapshot{}, err
	}
	path = store.Join(path)
	v, err := queryGet(ctx, s.db, path)
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Key: store.Base(path), Value: v}, nil
}

func (s *Store) Children(ctx context.Context, path string, q *store.Query) ([]store.Snapshot, error) {
	if err := store.ValidatePath(path); err != nil {
		return nil, err
	}
	return queryChildren(ctx, s.db, store.Join(path), q)
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
	path = store.Join(path)
	v, err := store.Normalize(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	err = s.runInTransaction(ctx, nil, func(tx executor) error {
		return execSet(ctx, tx, path, v)
	})
	if err != nil {
		return err
	}
	s.changed(ctx, path)
	return nil
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := store.ValidatePath(path); err != nil {
		return err
	}
	path = store.Join(path)

	writes := make(map[string][]byte, len(fields))
	values := make(map[string]any, len(fields))
	for k, raw := range fields {
		if err := store.ValidatePath(k); err != nil || k == "" {
			return fmt.Errorf("update %s: %w: field %q", path, store.ErrInvalidPath, k)
		}
		v, err := store.Normalize(raw)
		if err != nil {
			return fmt.Errorf("update %s field %s: %w", path, k, err)
		}
		p := store.Join(path, k)
		writes[p] = nil
		values[p] = v
	}
	if len(writes) == 0 {
		return nil
	}

	err := s.runInTransaction(ctx, nil, func(tx executor) error {
		for _, p := range sortedPaths(writes) {
			if err := execSet(ctx, tx, p, values[p]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.changed(ctx, path)
	return nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Transaction reads the current value, computes the replacement outside any
// database transaction, then commits it in a serializable transaction only if
// the value is still unchanged.
func (s *Store) Transaction(ctx context.Context, path string, fn store.TransactionFunc) (bool, store.Snapshot, error) {
	if err := store.ValidatePath(path); err != nil {
		return false, store.Snapshot{}, err
	}
	path = store.Join(path)
	key := store.Base(path)

	var current any
	for attempt := 0; attempt < store.MaxTransactionRetries; attempt++ {
		var err error
		current, err = queryGet(ctx, s.db, path)
		if err != nil {
			return false, store.Snapshot{}, err
		}

		next, err := fn(store.Clone(current))
		if errors.Is(err, store.ErrAbort) {
			return false, store.Snapshot{Key: key, Value: current}, nil
		}
		if err != nil {
			return false, store.Snapshot{}, fmt.Errorf("transaction %s: %w", path, err)
		}
		if next, err = store.Normalize(next); err != nil {
			return false, store.Snapshot{}, fmt.Errorf("transaction %s: %w", path, err)
		}

		err = s.runInTransaction(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(tx executor) error {
			latest, err := queryGet(ctx, tx, path)
			if err != nil {
				return err
			}
			if !store.Equal(latest, current) {
				return errConflict
			}
			return execSet(ctx, tx, path, next)
		})
		if errors.Is(err, errConflict) || isSerializationFailure(err) {
			s.logger.Debug("transaction conflict, retrying", "path", path, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return false, store.Snapshot{}, err
		}

		s.changed(ctx, path)
		return true, store.Snapshot{Key: key, Value: next}, nil
	}

	s.logger.Warn("transaction retries exhausted", "path", path, "attempts", store.MaxTransactionRetries)
	return false, store.Snapshot{Key: key, Value: current}, nil
}

func (s *Store) Subscribe(ctx context.Context, path string, typ store.EventType, h store.Handler) (func(), error) {
	return s.hub.Subscribe(ctx, path, typ, h)
}

// runInTransaction begins a database transaction, calls fn, and commits on
// success or rolls back on error.
func (s *Store) runInTransaction(ctx context.Context, opts *sql.TxOptions, fn func(tx executor) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// changed notifies local subscriptions and announces the write to other
// processes. Publishing failures are logged; the write itself has committed.
func (s *Store) changed(ctx context.Context, path string) {
	s.hub.Notify(path)
	ev := events.NodeChanged{Path: path, Origin: s.origin}
	if err := s.publisher.Publish(ctx, events.NodeTopic(path), ev); err != nil {
		s.logger.Warn("publish node change failed", "path", path, "err", err)
	}
}

func (s *Store) consumeRemote(ch <-chan []byte) {
	for data := range ch {
		var ev events.NodeChanged
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("decode node change", "err", err)
			continue
		}
		if ev.Origin == s.origin {
			continue
		}
		s.hub.Notify(ev.Path)
	}
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == serializationFailure
}
