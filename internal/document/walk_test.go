package document

import (
	"reflect"
	"testing"
)

func mustDecode(t *testing.T, src string) any {
	t.Helper()
	doc, err := Decode([]byte(src))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return doc
}

func TestWalkVisitsEverythingDeterministically(t *testing.T) {
	doc := mustDecode(t, `
b:
  - 1
  - 2
a:
  z: true
  y: null
`)

	var paths []string
	Walk(doc, func(p Path, v any) bool {
		paths = append(paths, p.String())
		return true
	})

	// lexicographic key order regardless of declaration order
	want := []string{"", "a", "a.y", "a.z", "b", "b[0]", "b[1]"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("paths = %v, want %v", paths, want)
	}

	// identical on a second pass
	var again []string
	Walk(doc, func(p Path, v any) bool {
		again = append(again, p.String())
		return true
	})
	if !reflect.DeepEqual(paths, again) {
		t.Errorf("second walk differs: %v vs %v", paths, again)
	}
}

func TestWalkStop(t *testing.T) {
	doc := mustDecode(t, "a: 1\nb: 2\nc: 3")

	visited := 0
	Walk(doc, func(p Path, v any) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Errorf("visited = %d, want walk to stop at 2", visited)
	}
}

func TestWalkDeepDocument(t *testing.T) {
	// iterative traversal must survive depth far beyond any goroutine
	// stack budget for recursive walks
	leaf := any("bottom")
	for i := 0; i < 100000; i++ {
		m := NewMap()
		m.Set("next", leaf)
		leaf = m
	}

	var last any
	Walk(leaf, func(p Path, v any) bool {
		last = v
		return true
	})
	if last != "bottom" {
		t.Errorf("deep walk did not reach the leaf, last = %v", last)
	}
}

func TestMatch(t *testing.T) {
	doc := mustDecode(t, `
jobs:
  build:
    docker:
      - image: a
  test:
    docker:
      - image: b
`)

	entries := Match(doc, func(p Path, v any) bool {
		return p.Last() == "image"
	})
	if len(entries) != 2 {
		t.Fatalf("got %d matches, want 2", len(entries))
	}
	if entries[0].Value != "a" || entries[1].Value != "b" {
		t.Errorf("match values = %v, %v; want a, b", entries[0].Value, entries[1].Value)
	}
}
