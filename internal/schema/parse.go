package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Raw is an uncompiled declaration: entity name to path and field types.
type Raw map[string]RawEntity

// RawEntity declares one entity type.
type RawEntity struct {
	Path   string            `json:"path" toml:"path"`
	Fields map[string]string `json:"fields" toml:"fields"`
}

// Format selects the encoding of a declaration.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatOf picks the format from a file extension; anything but .toml is
// read as JSON.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatJSON
}

// Parse decodes a declaration.
func Parse(data []byte, format Format) (Raw, error) {
	var raw Raw
	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), &raw)
		if err != nil {
			return nil, fmt.Errorf("decode toml schema: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decode toml schema: unknown key %s", undecoded[0])
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode json schema: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown schema format %q", format)
	}
	return raw, nil
}

// LoadFile reads and compiles the declaration at path.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	raw, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, err
	}
	s, err := Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", path, err)
	}
	return s, nil
}

// Raw returns the declaration the schema was compiled from.
func (s *Schema) Raw() Raw {
	raw := make(Raw, len(s.entities))
	for name, e := range s.entities {
		fields := make(map[string]string, len(e.Fields))
		for _, f := range e.Fields {
			fields[f.Name] = f.Type
		}
		raw[name] = RawEntity{Path: e.Path, Fields: fields}
	}
	return raw
}
