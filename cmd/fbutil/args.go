package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseValue reads a command-line value as JSON, falling back to the raw
// string, so 30 is a number, true a bool and Ann a string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// parseFields builds a field map from name=value arguments, starting from
// the JSON object in data when it is non-empty. "name=" with an empty value
// maps to nil, which deletes the field on update.
func parseFields(data string, args []string) (map[string]any, error) {
	fields := map[string]any{}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &fields); err != nil {
			return nil, fmt.Errorf("--data must be a JSON object: %w", err)
		}
	}
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q is not name=value", arg)
		}
		if raw == "" {
			fields[name] = nil
			continue
		}
		fields[name] = parseValue(raw)
	}
	return fields, nil
}
