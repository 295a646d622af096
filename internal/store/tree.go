package store

// Lookup walks parts beneath node and returns the value found, or nil.
func Lookup(node any, parts []string) any {
	for _, p := range parts {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[p]
	}
	return node
}

// Assign writes value at parts beneath node and returns the new node. Leaves
// on the way down are replaced by objects and objects left empty are pruned.
// Maps along the path are modified in place.
func Assign(node any, parts []string, value any) any {
	if len(parts) == 0 {
		return value
	}
	m, ok := node.(map[string]any)
	if !ok {
		m = make(map[string]any)
	}
	if child := Assign(m[parts[0]], parts[1:], value); child == nil {
		delete(m, parts[0])
	} else {
		m[parts[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
