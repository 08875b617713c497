package document

import (
	"sort"
	"strconv"
	"strings"
)

// Path addresses a value in a document: string elements are mapping
// keys, int elements are sequence indices.
type Path []any

// String renders the path in dotted form, indices in brackets.
func (p Path) String() string {
	var b strings.Builder
	for _, step := range p {
		switch s := step.(type) {
		case int:
			b.WriteString("[" + strconv.Itoa(s) + "]")
		case string:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(s)
		}
	}
	return b.String()
}

// Last returns the final path element, or nil for the root.
func (p Path) Last() any {
	if len(p) == 0 {
		return nil
	}
	return p[len(p)-1]
}

// Entry is one traversal result.
type Entry struct {
	Path  Path
	Value any
}

// Walk visits every value reachable from root depth-first, the root
// included, calling fn with each (path, value) pair. Mapping entries
// are visited in lexicographic key order so traversal is deterministic
// regardless of declaration order. fn returning false stops the walk.
//
// The traversal is iterative; document depth cannot exhaust the stack.
func Walk(root any, fn func(Path, any) bool) {
	type frame struct {
		path  Path
		value any
	}
	stack := []frame{{path: nil, value: root}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !fn(f.path, f.value) {
			return
		}

		switch v := f.value.(type) {
		case *Map:
			keys := append([]string(nil), v.Keys()...)
			sort.Strings(keys)
			// reversed so the stack pops in sorted order
			for i := len(keys) - 1; i >= 0; i-- {
				child, _ := v.Get(keys[i])
				stack = append(stack, frame{
					path:  childPath(f.path, keys[i]),
					value: child,
				})
			}
		case []any:
			for i := len(v) - 1; i >= 0; i-- {
				stack = append(stack, frame{
					path:  childPath(f.path, i),
					value: v[i],
				})
			}
		}
	}
}

func childPath(p Path, step any) Path {
	child := make(Path, len(p)+1)
	copy(child, p)
	child[len(p)] = step
	return child
}

// Match collects every (path, value) pair for which pred holds.
func Match(root any, pred func(Path, any) bool) []Entry {
	var out []Entry
	Walk(root, func(p Path, v any) bool {
		if pred(p, v) {
			out = append(out, Entry{Path: p, Value: v})
		}
		return true
	})
	return out
}
