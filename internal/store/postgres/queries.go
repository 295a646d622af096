package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// insertBatch caps the number of rows per INSERT statement.
const insertBatch = 500

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// childPrefix is the prefix shared by every descendant path of path.
func childPrefix(path string) string {
	if path == "" {
		return ""
	}
	return path + "/"
}

func querySubtree(ctx context.Context, db executor, path string) ([]leaf, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if path == "" {
		rows, err = db.QueryContext(ctx, `SELECT path, value FROM nodes ORDER BY path`)
	} else {
		rows, err = db.QueryContext(ctx,
			`SELECT path, value FROM nodes WHERE path = $1 OR starts_with(path, $2) ORDER BY path`,
			path, childPrefix(path))
	}
	if err != nil {
		return nil, fmt.Errorf("query subtree %q: %w", path, err)
	}
	return scanLeaves(rows)
}

func queryGet(ctx context.Context, db executor, path string) (any, error) {
	leaves, err := querySubtree(ctx, db, path)
	if err != nil {
		return nil, err
	}
	return inflate(path, leaves)
}

// boundType reports the JSON type shared by both bounds of q when the range
// can be evaluated in SQL: "string", "number" or "boolean". Open or mixed
// bounds return "" and the whole child set is filtered in Go.
func boundType(q *store.Query) string {
	if q == nil || q.OrderBy == "" || q.Start == nil || q.End == nil {
		return ""
	}
	_, s1 := q.Start.(string)
	_, s2 := q.End.(string)
	_, n1 := store.AsNumber(q.Start)
	_, n2 := store.AsNumber(q.End)
	_, b1 := q.Start.(bool)
	_, b2 := q.End.(bool)
	switch {
	case s1 && s2:
		return "string"
	case n1 && n2:
		return "number"
	case b1 && b2:
		return "boolean"
	}
	return ""
}

// boundCond renders the range condition on a leaf's value for boundType typ.
func boundCond(typ string, q *store.Query, next func(any) string) (string, error) {
	if typ == "string" {
		return fmt.Sprintf(`jsonb_typeof(value) = 'string' AND (value #>> '{}') COLLATE "C" >= %s AND (value #>> '{}') COLLATE "C" <= %s`,
			next(q.Start), next(q.End)), nil
	}
	lo, err := json.Marshal(q.Start)
	if err != nil {
		return "", fmt.Errorf("encode start bound: %w", err)
	}
	hi, err := json.Marshal(q.End)
	if err != nil {
		return "", fmt.Errorf("encode end bound: %w", err)
	}
	return fmt.Sprintf(`jsonb_typeof(value) = '%s' AND value >= %s::jsonb AND value <= %s::jsonb`,
		typ, next(string(lo)), next(string(hi))), nil
}

func queryChildren(ctx context.Context, db executor, path string, q *store.Query) ([]store.Snapshot, error) {
	prefix := childPrefix(path)

	var (
		args   []any
		argIdx int
	)
	nextArg := func(v any) string {
		args = append(args, v)
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	pArg := nextArg(prefix)
	oArg := nextArg(len(prefix) + 1)
	query := `WITH leaves AS (
		SELECT path, value, substr(path, ` + oArg + `) AS rel
		FROM nodes WHERE starts_with(path, ` + pArg + `) AND path <> ` + pArg + `
	)
	SELECT path, value FROM leaves`

	if typ := boundType(q); typ != "" {
		fArg := nextArg(store.Join(q.OrderBy))
		cond, err := boundCond(typ, q, nextArg)
		if err != nil {
			return nil, err
		}
		query += `
	WHERE split_part(rel, '/', 1) IN (
		SELECT split_part(rel, '/', 1) FROM leaves
		WHERE strpos(rel, '/') > 0 AND substr(rel, strpos(rel, '/') + 1) = ` + fArg + `
		AND ` + cond + `
	)`
	}
	query += `
	ORDER BY path`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query children of %q: %w", path, err)
	}
	leaves, err := scanLeaves(rows)
	if err != nil {
		return nil, err
	}

	tree, err := inflate(path, leaves)
	if err != nil {
		return nil, err
	}
	m, _ := tree.(map[string]any)
	children := make([]store.Snapshot, 0, len(m))
	for k, v := range m {
		children = append(children, store.Snapshot{Key: k, Value: v})
	}
	return store.ApplyQuery(children, q), nil
}

// execSet replaces the subtree at path with the normalized value v.
func execSet(ctx context.Context, db executor, path string, v any) error {
	var err error
	if path == "" {
		_, err = db.ExecContext(ctx, `DELETE FROM nodes`)
	} else {
		_, err = db.ExecContext(ctx, `DELETE FROM nodes WHERE path = $1 OR starts_with(path, $2)`, path, childPrefix(path))
	}
	if err != nil {
		return fmt.Errorf("delete subtree %q: %w", path, err)
	}
	if v == nil {
		return nil
	}

	// A value beneath a leaf turns that leaf into an object.
	if anc := ancestors(path); len(anc) > 0 {
		if _, err := db.ExecContext(ctx, `DELETE FROM nodes WHERE path = ANY($1)`, pq.Array(anc)); err != nil {
			return fmt.Errorf("delete ancestor leaves of %q: %w", path, err)
		}
	}

	leaves, err := flatten(path, v)
	if err != nil {
		return err
	}
	paths := sortedPaths(leaves)
	for start := 0; start < len(paths); start += insertBatch {
		end := min(start+insertBatch, len(paths))
		placeholders := make([]string, 0, end-start)
		args := make([]any, 0, 2*(end-start))
		for i, p := range paths[start:end] {
			placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, now())", 2*i+1, 2*i+2))
			args = append(args, p, leaves[p])
		}
		_, err := db.ExecContext(ctx,
			`INSERT INTO nodes (path, value, updated_at) VALUES `+strings.Join(placeholders, ", "),
			args...)
		if err != nil {
			return fmt.Errorf("insert nodes under %q: %w", path, err)
		}
	}
	return nil
}
