// Package document models a pipeline configuration as an in-memory tree
// of scalars, sequences, and ordered mappings, and provides the query
// primitives the policy helpers are built on.
package document

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// maxDepth bounds nesting while decoding untrusted documents.
const maxDepth = 200

// Map is a mapping with stable key order. Keys keep declaration order;
// a duplicate key keeps its first position but takes the last value.
type Map struct {
	keys []string
	vals map[string]any
}

// NewMap constructs an empty mapping.
func NewMap() *Map {
	return &Map{vals: map[string]any{}}
}

// Set inserts or replaces a key.
func (m *Map) Set(key string, v any) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
}

// Get returns the value for key. The bool reports presence, so an
// absent key is distinguishable from a present null.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.vals[key]
	return v, ok
}

// Keys returns keys in declaration order. Callers must not mutate.
func (m *Map) Keys() []string {
	return m.keys
}

// Len reports the number of entries.
func (m *Map) Len() int {
	return len(m.keys)
}

// Decode parses YAML (or JSON, a YAML subset) into document values:
// nil, bool, int64, float64, string, []any, and *Map.
func Decode(data []byte) (any, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("malformed document: %w", err)
	}
	if root.Kind == 0 {
		return nil, nil // empty input
	}
	return fromNode(&root, 0)
}

func fromNode(n *yaml.Node, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("document nesting exceeds %d levels", maxDepth)
	}

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return fromNode(n.Content[0], depth)

	case yaml.AliasNode:
		// yaml.v3 forbids recursive anchors, the depth guard still
		// bounds chained aliases.
		return fromNode(n.Alias, depth+1)

	case yaml.MappingNode:
		m := NewMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, err := scalarKey(n.Content[i])
			if err != nil {
				return nil, err
			}
			v, err := fromNode(n.Content[i+1], depth+1)
			if err != nil {
				return nil, err
			}
			m.Set(key, v)
		}
		return m, nil

	case yaml.SequenceNode:
		seq := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := fromNode(c, depth+1)
			if err != nil {
				return nil, err
			}
			seq = append(seq, v)
		}
		return seq, nil

	case yaml.ScalarNode:
		return scalarValue(n)
	}

	return nil, fmt.Errorf("unsupported node kind %d at line %d", n.Kind, n.Line)
}

func scalarKey(n *yaml.Node) (string, error) {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	if n.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("mapping key at line %d is not a scalar", n.Line)
	}
	return n.Value, nil
}

func scalarValue(n *yaml.Node) (any, error) {
	switch n.Tag {
	case "!!null", "":
		if n.Tag == "" && n.Value != "" {
			return n.Value, nil
		}
		return nil, nil
	case "!!bool":
		b, err := strconv.ParseBool(n.Value)
		if err != nil {
			return nil, fmt.Errorf("bad bool %q at line %d", n.Value, n.Line)
		}
		return b, nil
	case "!!int":
		i, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer %q at line %d", n.Value, n.Line)
		}
		return i, nil
	case "!!float":
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("bad float %q at line %d", n.Value, n.Line)
		}
		return f, nil
	default:
		return n.Value, nil
	}
}

// Project returns v's field when v is a mapping containing it. Absence
// is reported through the bool, never as an error.
func Project(v any, field string) (any, bool) {
	m, ok := v.(*Map)
	if !ok {
		return nil, false
	}
	return m.Get(field)
}

// Plain converts a document value to plain Go values (map[string]any,
// []any, scalars) for handing to expression evaluation. Key order is
// not preserved; plain values are only used where order is irrelevant.
func Plain(v any) any {
	switch t := v.(type) {
	case *Map:
		out := make(map[string]any, t.Len())
		for _, k := range t.Keys() {
			child, _ := t.Get(k)
			out[k] = Plain(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			out[i] = Plain(c)
		}
		return out
	default:
		return v
	}
}
