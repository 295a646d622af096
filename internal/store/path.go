package store

import (
	"fmt"
	"strings"
)

const illegalKeyChars = "/.#$[]"

// Split breaks a path into its keys, ignoring empty segments.
func Split(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Join concatenates path segments into a canonical path without leading or
// trailing slashes.
func Join(elem ...string) string {
	var parts []string
	for _, e := range elem {
		parts = append(parts, Split(e)...)
	}
	return strings.Join(parts, "/")
}

// Parent returns the path of the parent node, or "" for top-level keys.
func Parent(path string) string {
	parts := Split(path)
	if len(parts) <= 1 {
		return ""
	}
	return strings.Join(parts[:len(parts)-1], "/")
}

// Base returns the last key of path.
func Base(path string) string {
	parts := Split(path)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// Related reports whether a write at one path can change the children of the
// other, that is whether either path is an ancestor of, or equal to, the other.
func Related(a, b string) bool {
	a, b = Join(a), Join(b)
	if a == b || a == "" || b == "" {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// ValidKey reports whether k can be used as a single path segment.
func ValidKey(k string) bool {
	return k != "" && !strings.ContainsAny(k, illegalKeyChars)
}

// ValidatePath checks every segment of path.
func ValidatePath(path string) error {
	for _, p := range Split(path) {
		if !ValidKey(p) {
			return fmt.Errorf("%w: %q contains one of %q", ErrInvalidPath, path, illegalKeyChars)
		}
	}
	return nil
}
