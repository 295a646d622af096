package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/Krajiyah/firebase-admin-util/internal/auth"
	"github.com/Krajiyah/firebase-admin-util/internal/events"
	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// recordingPublisher captures published topics.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// chanSubscriber hands out a channel the test writes to.
type chanSubscriber struct {
	ch chan []byte
}

func (c *chanSubscriber) Subscribe(string) (<-chan []byte, func(), error) {
	return c.ch, func() {}, nil
}

func (c *chanSubscriber) Close() error { return nil }

func newTestStore(t *testing.T, db *sql.DB, opts ...Option) *Store {
	t.Helper()
	s, err := newStore(db, opts...)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	t.Cleanup(s.hub.Close)
	return s
}

var leafColumns = []string{"path", "value"}

const (
	subtreeSQL  = `SELECT path, value FROM nodes WHERE path = \$1 OR starts_with\(path, \$2\) ORDER BY path`
	childrenSQL = `WITH leaves AS \( SELECT path, value, substr\(path, \$2\) AS rel FROM nodes WHERE starts_with\(path, \$1\)`
)

func TestFlattenInflate(t *testing.T) {
	v := map[string]any{
		"name": "Rex",
		"tags": []any{"a", "b"},
		"meta": map[string]any{"age": 3.0},
	}
	leaves, err := flatten("Dogs/d1", v)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	want := map[string]string{
		"Dogs/d1/meta/age": `3`,
		"Dogs/d1/name":     `"Rex"`,
		"Dogs/d1/tags":     `["a","b"]`,
	}
	if len(leaves) != len(want) {
		t.Fatalf("flatten = %v, want %d leaves", leaves, len(want))
	}
	var rows []leaf
	for _, p := range sortedPaths(leaves) {
		if string(leaves[p]) != want[p] {
			t.Errorf("leaf %s = %s, want %s", p, leaves[p], want[p])
		}
		rows = append(rows, leaf{path: p, value: leaves[p]})
	}

	got, err := inflate("Dogs/d1", rows)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	if !store.Equal(got, v) {
		t.Errorf("inflate = %#v, want %#v", got, v)
	}

	parent, _ := inflate("Dogs", rows)
	if !store.Equal(parent, map[string]any{"d1": v}) {
		t.Errorf("inflate(parent) = %#v", parent)
	}
}

func TestAncestors(t *testing.T) {
	got := ancestors("A/B/C")
	want := []string{"", "A", "A/B"}
	if len(got) != len(want) {
		t.Fatalf("ancestors = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ancestors = %q, want %q", got, want)
		}
	}
	if ancestors("") != nil {
		t.Error("root has no ancestors")
	}
}

func TestGet(t *testing.T) {
	db, mock := newMockDB(t)
	s := newTestStore(t, db)

	mock.ExpectQuery(subtreeSQL).WithArgs("Dogs/d1", "Dogs/d1/").
		WillReturnRows(sqlmock.NewRows(leafColumns).
			AddRow("Dogs/d1/age", []byte(`3`)).
			AddRow("Dogs/d1/name", []byte(`"Rex"`)))

	snap, err := s.Get(context.Background(), "/Dogs/d1/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Key != "d1" {
		t.Errorf("key = %q", snap.Key)
	}
	if !store.Equal(snap.Value, map[string]any{"age": 3.0, "name": "Rex"}) {
		t.Errorf("value = %#v", snap.Value)
	}
}

func TestGet_Missing(t *testing.T) {
	db, mock := newMockDB(t)
	s := newTestStore(t, db)

	mock.ExpectQuery(subtreeSQL).WithArgs("Dogs/nope", "Dogs/nope/").
		WillReturnRows(sqlmock.NewRows(leafColumns))

	snap, err := s.Get(context.Background(), "Dogs/nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Exists() {
		t.Errorf("snapshot of missing node = %#v", snap.Value)
	}
}

func TestSet(t *testing.T) {
	db, mock := newMockDB(t)
	pub := &recordingPublisher{}
	s := newTestStore(t, db, WithPublisher(pub))

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM nodes WHERE path = \$1 OR starts_with\(path, \$2\)`).
		WithArgs("Dogs/d1", "Dogs/d1/").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM nodes WHERE path = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO nodes \(path, value, updated_at\) VALUES \(\$1, \$2, now\(\)\), \(\$3, \$4, now\(\)\)`).
		WithArgs("Dogs/d1/age", []byte(`2`), "Dogs/d1/name", []byte(`"Rex"`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := s.Set(context.Background(), "Dogs/d1", map[string]any{"name": "Rex", "age": 2}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if len(pub.topics) != 1 || pub.topics[0] != "fbutil.node.Dogs.d1" {
		t.Errorf("published topics = %v", pub.topics)
	}
	if ev, ok := pub.events[0].(events.NodeChanged); !ok || ev.Origin != s.origin || ev.Path != "Dogs/d1" {
		t.Errorf("published event = %#v", pub.events[0])
	}
}

func TestSet_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	s := newTestStore(t, db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM nodes`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := s.Set(context.Background(), "A", 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestRemove(t *testing.T) {
	db, mock := newMockDB(t)
	s := newTestStore(t, db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM nodes WHERE path = \$1 OR starts_with\(path, \$2\)`).
		WithArgs("Dogs/d1", "Dogs/d1/").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	if err := s.Remove(context.Background(), "Dogs/d1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestUpdate_WritesEachField(t *testing.T) {
	db, mock := newMockDB(t)
	s := newTestStore(t, db)

	mock.ExpectBegin()
	// "age" is written.
	mock.ExpectExec(`DELETE FROM nodes WHERE path = \$1 OR starts_with`).
		WithArgs("Dogs/d1/age", "Dogs/d1/age/").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM nodes WHERE path = ANY`).
		WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO nodes`).
		WithArgs("Dogs/d1/age", []byte(`4`)).WillReturnResult(sqlmock.NewResult(0, 1))
	// "name" is removed.
	mock.ExpectExec(`DELETE FROM nodes WHERE path = \$1 OR starts_with`).
		WithArgs("Dogs/d1/name", "Dogs/d1/name/").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Update(context.Background(), "Dogs/d1", map[string]any{"age": 4, "name": nil})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestChildren_PushesDownStringEquality(t *testing.T) {
	db, mock := newMockDB(t)
	s := newTestStore(t, db)

	mock.ExpectQuery(childrenSQL+`.+jsonb_typeof\(value\) = 'string'`).
		WithArgs("Dogs/", 6, "name", "Rex", "Rex").
		WillReturnRows(sqlmock.NewRows(leafColumns).
			AddRow("Dogs/d1/age", []byte(`3`)).
			AddRow("Dogs/d1/name", []byte(`"Rex"`)).
			AddRow("Dogs/d2/name", []byte(`"Rex"`)))

	got, err := s.Children(context.Background(), "Dogs", store.EqualTo("name", "Rex"))
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(got) != 2 || got[0].Key != "d1" || got[1].Key != "d2" {
		t.Fatalf("children = %+v", got)
	}
	if got[0].Child("age").Value != 3.0 {
		t.Errorf("d1 = %#v", got[0].Value)
	}
}

func TestChildren_NumberRange(t *testing.T) {
	db, mock := newMockDB(t)
	s := newTestStore(t, db)

	mock.ExpectQuery(childrenSQL+`.+jsonb_typeof\(value\) = 'number' AND value >= \$4::jsonb AND value <= \$5::jsonb`).
		WithArgs("Dogs/", 6, "age", "1", "5").
		WillReturnRows(sqlmock.NewRows(leafColumns).
			AddRow("Dogs/d2/age", []byte(`4`)).
			AddRow("Dogs/d1/age", []byte(`2`)))

	got, err := s.Children(context.Background(), "Dogs", store.Between("age", 1, 5))
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(got) != 2 || got[0].Key != "d1" || got[1].Key != "d2" {
		t.Fatalf("children not ordered by age: %+v", got)
	}
}

func TestChildren_OpenRangeFiltersInGo(t *testing.T) {
	db, mock := newMockDB(t)
	s := newTestStore(t, db)

	mock.ExpectQuery(childrenSQL + ` AND path <> \$1 \) SELECT path, value FROM leaves ORDER BY path`).
		WithArgs("Dogs/", 6).
		WillReturnRows(sqlmock.NewRows(leafColumns).
			AddRow("Dogs/d1/age", []byte(`1`)).
			AddRow("Dogs/d2/age", []byte(`7`)))

	got, err := s.Children(context.Background(), "Dogs", &store.Query{OrderBy: "age", Start: 5})
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(got) != 1 || got[0].Key != "d2" {
		t.Fatalf("children = %+v", got)
	}
}

func expectCounterRead(mock sqlmock.Sqlmock, value string) {
	mock.ExpectQuery(subtreeSQL).WithArgs("Counters/c/count", "Counters/c/count/").
		WillReturnRows(sqlmock.NewRows(leafColumns).AddRow("Counters/c/count", []byte(value)))
}

func expectCounterWrite(mock sqlmock.Sqlmock, value string) {
	mock.ExpectExec(`DELETE FROM nodes WHERE path = \$1 OR starts_with`).
		WithArgs("Counters/c/count", "Counters/c/count/").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM nodes WHERE path = ANY`).
		WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO nodes`).
		WithArgs("Counters/c/count", []byte(value)).WillReturnResult(sqlmock.NewResult(0, 1))
}

func increment(cur any) (any, error) {
	n, _ := store.AsNumber(cur)
	return n + 1, nil
}

func TestTransaction_RetriesWhenValueChanged(t *testing.T) {
	db, mock := newMockDB(t)
	s := newTestStore(t, db)

	// Attempt 1: another writer moved the counter from 0 to 1 before commit.
	expectCounterRead(mock, "0")
	mock.ExpectBegin()
	expectCounterRead(mock, "1")
	mock.ExpectRollback()

	// Attempt 2 starts from 1 and commits 2.
	expectCounterRead(mock, "1")
	mock.ExpectBegin()
	expectCounterRead(mock, "1")
	expectCounterWrite(mock, "2")
	mock.ExpectCommit()

	committed, snap, err := s.Transaction(context.Background(), "Counters/c/count", increment)
	if err != nil || !committed {
		t.Fatalf("Transaction: committed=%v err=%v", committed, err)
	}
	if snap.Value != 2.0 {
		t.Errorf("value = %#v, want 2", snap.Value)
	}
}

func TestTransaction_RetriesOnSerializationFailure(t *testing.T) {
	db, mock := newMockDB(t)
	s := newTestStore(t, db)

	expectCounterRead(mock, "0")
	mock.ExpectBegin()
	expectCounterRead(mock, "0")
	expectCounterWrite(mock, "1")
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: serializationFailure})

	expectCounterRead(mock, "1")
	mock.ExpectBegin()
	expectCounterRead(mock, "1")
	expectCounterWrite(mock, "2")
	mock.ExpectCommit()

	committed, snap, err := s.Transaction(context.Background(), "Counters/c/count", increment)
	if err != nil || !committed {
		t.Fatalf("Transaction: committed=%v err=%v", committed, err)
	}
	if snap.Value != 2.0 {
		t.Errorf("value = %#v, want 2", snap.Value)
	}
}

func TestTransaction_Abort(t *testing.T) {
	db, mock := newMockDB(t)
	s := newTestStore(t, db)

	expectCounterRead(mock, "5")

	committed, snap, err := s.Transaction(context.Background(), "Counters/c/count", func(any) (any, error) {
		return nil, store.ErrAbort
	})
	if err != nil || committed {
		t.Fatalf("committed=%v err=%v, want aborted", committed, err)
	}
	if snap.Value != 5.0 {
		t.Errorf("snapshot = %#v", snap.Value)
	}
}

func TestRemoteNoticesDriveSubscriptions(t *testing.T) {
	db, mock := newMockDB(t)
	remote := &chanSubscriber{ch: make(chan []byte, 2)}
	s := newTestStore(t, db, WithSubscriber(remote))

	mock.ExpectQuery(childrenSQL).WithArgs("Dogs/", 6).WillReturnRows(sqlmock.NewRows(leafColumns))
	mock.ExpectQuery(childrenSQL).WithArgs("Dogs/", 6).
		WillReturnRows(sqlmock.NewRows(leafColumns).AddRow("Dogs/d1/name", []byte(`"Rex"`)))

	got := make(chan store.ChildEvent, 1)
	cancel, err := s.Subscribe(context.Background(), "Dogs", store.ChildAdded, func(ev store.ChildEvent) { got <- ev })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	own, _ := json.Marshal(events.NodeChanged{Path: "Dogs/d0", Origin: s.origin})
	other, _ := json.Marshal(events.NodeChanged{Path: "Dogs/d1", Origin: "elsewhere"})
	remote.ch <- own
	remote.ch <- other

	select {
	case ev := <-got:
		if ev.Snapshot.Key != "d1" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for remote change")
	}
}

func TestIsSerializationFailure(t *testing.T) {
	if !isSerializationFailure(&pq.Error{Code: "40001"}) {
		t.Error("40001 not detected")
	}
	if isSerializationFailure(&pq.Error{Code: "23505"}) {
		t.Error("unique violation misdetected")
	}
	if isSerializationFailure(errors.New("x")) {
		t.Error("plain error misdetected")
	}
}

var accountRow = []string{"uid", "email", "password_hash", "email_verified", "disabled", "display_name", "created_at", "updated_at"}

func TestAccounts(t *testing.T) {
	db, mock := newMockDB(t)
	s := newTestStore(t, db)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs("u1", "ann@example.com", "hash", false, false, "", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.CreateAccount(ctx, &auth.Account{UID: "u1", Email: "ann@example.com", PasswordHash: "hash", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE lower\(email\) = lower\(\$1\)`).
		WithArgs("ann@example.com").
		WillReturnRows(sqlmock.NewRows(accountRow).AddRow("u1", "ann@example.com", "hash", false, false, "", now, now))
	a, err := s.GetAccountByEmail(ctx, "ann@example.com")
	if err != nil || a.UID != "u1" {
		t.Fatalf("GetAccountByEmail = %+v, %v", a, err)
	}

	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE uid = \$1`).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(accountRow))
	if _, err := s.GetAccount(ctx, "nope"); !errors.Is(err, auth.ErrAccountNotFound) {
		t.Errorf("GetAccount(missing) error = %v, want ErrAccountNotFound", err)
	}

	mock.ExpectExec(`DELETE FROM accounts WHERE uid = \$1`).WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.DeleteAccount(ctx, "nope"); !errors.Is(err, auth.ErrAccountNotFound) {
		t.Errorf("DeleteAccount(missing) error = %v, want ErrAccountNotFound", err)
	}
}
