package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// leaf is one row of the nodes table.
type leaf struct {
	path  string
	value []byte
}

func scanLeaf(row scannable) (leaf, error) {
	var l leaf
	if err := row.Scan(&l.path, &l.value); err != nil {
		return leaf{}, err
	}
	return l, nil
}

func scanLeaves(rows *sql.Rows) ([]leaf, error) {
	defer rows.Close()
	var out []leaf
	for rows.Next() {
		l, err := scanLeaf(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// flatten splits a normalized value into leaves keyed by full path. Scalars
// and arrays are leaves; objects only contribute their children.
func flatten(path string, v any) (map[string][]byte, error) {
	out := make(map[string][]byte)
	var walk func(p string, v any) error
	walk = func(p string, v any) error {
		switch t := v.(type) {
		case nil:
			return nil
		case map[string]any:
			for k, c := range t {
				if err := walk(store.Join(p, k), c); err != nil {
					return err
				}
			}
			return nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", p, err)
		}
		out[p] = data
		return nil
	}
	if err := walk(store.Join(path), v); err != nil {
		return nil, err
	}
	return out, nil
}

// inflate rebuilds the value at base from the leaves of its subtree.
func inflate(base string, leaves []leaf) (any, error) {
	base = store.Join(base)
	var root any
	for _, l := range leaves {
		rel := l.path
		if base != "" {
			if l.path != base && !strings.HasPrefix(l.path, base+"/") {
				continue
			}
			rel = strings.TrimPrefix(strings.TrimPrefix(l.path, base), "/")
		}
		var v any
		if err := json.Unmarshal(l.value, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", l.path, err)
		}
		root = store.Assign(root, store.Split(rel), v)
	}
	return root, nil
}

// sortedPaths returns the keys of leaves in byte order so statements and
// their arguments are deterministic.
func sortedPaths(leaves map[string][]byte) []string {
	paths := make([]string, 0, len(leaves))
	for p := range leaves {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// ancestors lists every proper ancestor of path, root included.
func ancestors(path string) []string {
	parts := store.Split(path)
	if len(parts) == 0 {
		return nil
	}
	out := []string{""}
	for i := 1; i < len(parts); i++ {
		out = append(out, strings.Join(parts[:i], "/"))
	}
	return out
}
