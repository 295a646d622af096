package schema

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Krajiyah/firebase-admin-util/internal/record"
	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

// Validate checks fields against the entity declaration. Unknown fields and
// type mismatches fail; nil values (deletions) and the reserved update stamp
// are accepted. Declared fields are never required, so partial only matters
// to callers that want to distinguish merges.
func (e *Entity) Validate(fields map[string]any, partial bool) error {
	var ve ValidationError
	for name, v := range fields {
		if name == record.UpdatedField || v == nil {
			continue
		}
		f, ok := e.Field(name)
		if !ok {
			ve.add(name, "unknown field")
			continue
		}
		if err := f.Check(v); err != nil {
			ve.add(name, err.Error())
		}
	}
	if ve.HasErrors() {
		sort.Slice(ve.Errors, func(i, j int) bool { return ve.Errors[i].Field < ve.Errors[j].Field })
		return &ve
	}
	return nil
}

// Check reports whether v is a valid stored value for the field. Empty
// arrays and objects are checked as written, before storage drops them.
func (f Field) Check(v any) error {
	v, err := store.Decode(v)
	if err != nil {
		return fmt.Errorf("must be JSON")
	}
	switch f.Kind {
	case KindRef:
		if s, ok := v.(string); !ok || !store.ValidKey(s) {
			return fmt.Errorf("must be a %s key", f.Ref)
		}
		return nil
	case KindRefList:
		list, ok := v.([]any)
		if !ok {
			return fmt.Errorf("must be an array of %s keys", f.Ref)
		}
		for _, x := range list {
			if s, ok := x.(string); !ok || !store.ValidKey(s) {
				return fmt.Errorf("must be an array of %s keys", f.Ref)
			}
		}
		if f.Scalar == Set && hasDuplicates(list) {
			return fmt.Errorf("must not repeat keys")
		}
		return nil
	}

	switch f.Scalar {
	case String:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("must be a string")
		}
	case Number:
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("must be a number")
		}
	case Boolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("must be a boolean")
		}
	case Object:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("must be an object")
		}
	case Link:
		s, ok := v.(string)
		if !ok || !IsURL(s) {
			return fmt.Errorf("must be an http(s) URL")
		}
	case Array:
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("must be an array")
		}
	case Set:
		list, ok := v.([]any)
		if !ok {
			return fmt.Errorf("must be an array")
		}
		if hasDuplicates(list) {
			return fmt.Errorf("must not repeat values")
		}
	default:
		return fmt.Errorf("unknown field type %q", f.Type)
	}
	return nil
}

// IsURL reports whether s is an absolute http or https URL.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func hasDuplicates(list []any) bool {
	for i := range list {
		for j := i + 1; j < len(list); j++ {
			if store.Equal(list[i], list[j]) {
				return true
			}
		}
	}
	return false
}
