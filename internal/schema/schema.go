// Package schema parses entity declarations and compiles them into field
// descriptors consumed by the model registry.
//
// A declaration maps entity names to a datastore path and a field map:
//
//	{"User": {"path": "Users", "fields": {"name": "string", "dog": "string:Dog"}}}
//
// Field types are a scalar (string, number, boolean, object, link, array,
// set) or a reference: "string:Entity" for one key, "array:Entity" for an
// ordered list of keys, "set:Entity" for a list of distinct keys.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Krajiyah/firebase-admin-util/internal/record"
	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// Scalar is the value type of a field.
type Scalar string

const (
	String  Scalar = "string"
	Number  Scalar = "number"
	Boolean Scalar = "boolean"
	Object  Scalar = "object"
	Link    Scalar = "link"
	Array   Scalar = "array"
	Set     Scalar = "set"
)

// IsValid reports whether s is a known scalar type.
func (s Scalar) IsValid() bool {
	switch s {
	case String, Number, Boolean, Object, Link, Array, Set:
		return true
	}
	return false
}

// Kind distinguishes plain fields from references.
type Kind int

const (
	KindScalar Kind = iota
	KindRef
	KindRefList
)

func (k Kind) String() string {
	switch k {
	case KindRef:
		return "ref"
	case KindRefList:
		return "ref-list"
	}
	return "scalar"
}

// Field is the compiled descriptor of one declared field.
type Field struct {
	Name string
	Type string // declared type string, e.g. "array:Dog"
	Kind Kind
	// Scalar is the stored value type. References store String (one key) or
	// Array/Set (a list of keys).
	Scalar Scalar
	// Ref names the referenced entity for KindRef and KindRefList.
	Ref string
}

// ListKind returns the list semantics for list-valued fields.
func (f Field) ListKind() record.ListKind {
	if f.Scalar == Set {
		return record.UniqueList
	}
	return record.OrderedList
}

// IsList reports whether the field stores a list.
func (f Field) IsList() bool {
	return f.Scalar == Array || f.Scalar == Set
}

// Entity is one compiled entity type.
type Entity struct {
	Name   string
	Path   string
	Fields []Field // sorted by name

	byName map[string]int
}

// Field returns the descriptor of the named field.
func (e *Entity) Field(name string) (Field, bool) {
	i, ok := e.byName[name]
	if !ok {
		return Field{}, false
	}
	return e.Fields[i], true
}

// Schema is a compiled set of entity types.
type Schema struct {
	entities map[string]*Entity
	names    []string
}

// Entity returns the named entity type.
func (s *Schema) Entity(name string) (*Entity, bool) {
	e, ok := s.entities[name]
	return e, ok
}

// Names returns the entity names in sorted order.
func (s *Schema) Names() []string {
	return append([]string(nil), s.names...)
}

// Entities returns the entity types sorted by name.
func (s *Schema) Entities() []*Entity {
	out := make([]*Entity, len(s.names))
	for i, n := range s.names {
		out[i] = s.entities[n]
	}
	return out
}

// ParseType splits a declared field type into its descriptor parts.
func ParseType(typ string) (Field, error) {
	base, ref, isRef := strings.Cut(typ, ":")
	sc := Scalar(base)
	if !isRef {
		if !sc.IsValid() {
			return Field{}, fmt.Errorf("unknown type %q", typ)
		}
		return Field{Type: typ, Kind: KindScalar, Scalar: sc}, nil
	}
	if ref == "" {
		return Field{}, fmt.Errorf("type %q names no entity", typ)
	}
	switch sc {
	case String:
		return Field{Type: typ, Kind: KindRef, Scalar: String, Ref: ref}, nil
	case Array, Set:
		return Field{Type: typ, Kind: KindRefList, Scalar: sc, Ref: ref}, nil
	}
	return Field{}, fmt.Errorf("type %q: references must be string, array or set", typ)
}

// Compile checks a declaration and builds its descriptors. Every problem is
// reported in one *ValidationError whose field names are "Entity.field".
func Compile(raw Raw) (*Schema, error) {
	var ve ValidationError
	s := &Schema{entities: make(map[string]*Entity, len(raw))}

	for name, re := range raw {
		if !store.ValidKey(name) {
			ve.add(name, "invalid entity name")
			continue
		}
		path := store.Join(re.Path)
		if path == "" {
			ve.add(name+".path", "is required")
		} else if err := store.ValidatePath(path); err != nil {
			ve.add(name+".path", err.Error())
		}

		e := &Entity{Name: name, Path: path, byName: make(map[string]int, len(re.Fields))}
		fieldNames := make([]string, 0, len(re.Fields))
		for fn := range re.Fields {
			fieldNames = append(fieldNames, fn)
		}
		sort.Strings(fieldNames)
		for _, fn := range fieldNames {
			ref := name + "." + fn
			if fn == record.UpdatedField {
				ve.add(ref, "is reserved")
				continue
			}
			if !store.ValidKey(fn) {
				ve.add(ref, "invalid field name")
				continue
			}
			f, err := ParseType(re.Fields[fn])
			if err != nil {
				ve.add(ref, err.Error())
				continue
			}
			if f.Ref != "" {
				if _, ok := raw[f.Ref]; !ok {
					ve.add(ref, fmt.Sprintf("references undeclared entity %q", f.Ref))
					continue
				}
			}
			f.Name = fn
			e.byName[fn] = len(e.Fields)
			e.Fields = append(e.Fields, f)
		}
		s.entities[name] = e
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)

	if ve.HasErrors() {
		sort.Slice(ve.Errors, func(i, j int) bool { return ve.Errors[i].Field < ve.Errors[j].Field })
		return nil, &ve
	}
	return s, nil
}

// MustCompile is Compile for declarations known to be valid. It panics on
// error.
func MustCompile(raw Raw) *Schema {
	s, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return s
}
