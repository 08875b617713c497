package document

import (
	"reflect"
	"strings"
	"testing"
)

func TestDecodeScalars(t *testing.T) {
	doc, err := Decode([]byte(`
version: 2.1
count: 3
name: build
flag: true
empty: null
`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	m, ok := doc.(*Map)
	if !ok {
		t.Fatalf("expected *Map, got %T", doc)
	}

	tests := []struct {
		key  string
		want any
	}{
		{"version", float64(2.1)},
		{"count", int64(3)},
		{"name", "build"},
		{"flag", true},
		{"empty", nil},
	}
	for _, tt := range tests {
		got, ok := m.Get(tt.key)
		if !ok {
			t.Errorf("key %q absent", tt.key)
			continue
		}
		if got != tt.want {
			t.Errorf("%s = %v (%T), want %v (%T)", tt.key, got, got, tt.want, tt.want)
		}
	}
}

func TestDecodeKeepsKeyOrder(t *testing.T) {
	doc, err := Decode([]byte(`
jobs:
  zeta: {}
  alpha: {}
  mid: {}
`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	jobs, ok := Project(doc, "jobs")
	if !ok {
		t.Fatal("jobs absent")
	}
	m := jobs.(*Map)
	want := []string{"zeta", "alpha", "mid"}
	if !reflect.DeepEqual(m.Keys(), want) {
		t.Errorf("Keys() = %v, want declaration order %v", m.Keys(), want)
	}
}

func TestDecodeDepthCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < maxDepth+10; i++ {
		b.WriteString(strings.Repeat(" ", i) + "a:\n")
	}
	_, err := Decode([]byte(b.String()))
	if err == nil {
		t.Fatal("expected depth error for deeply nested document")
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte("a: [unclosed"))
	if err == nil {
		t.Fatal("expected error for malformed document")
	}
}

func TestProjectAbsentVsNull(t *testing.T) {
	doc, err := Decode([]byte("present: null"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	v, ok := Project(doc, "present")
	if !ok {
		t.Error("present key reported absent")
	}
	if v != nil {
		t.Errorf("present = %v, want nil", v)
	}

	if _, ok := Project(doc, "missing"); ok {
		t.Error("missing key reported present")
	}

	// projecting a non-mapping is absence, never an error
	if _, ok := Project("scalar", "field"); ok {
		t.Error("Project on a scalar reported present")
	}
}

func TestPlain(t *testing.T) {
	doc, err := Decode([]byte(`
jobs:
  build:
    docker:
      - image: circleci/node
`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	plain, ok := Plain(doc).(map[string]any)
	if !ok {
		t.Fatalf("Plain did not produce map[string]any")
	}
	jobs := plain["jobs"].(map[string]any)
	build := jobs["build"].(map[string]any)
	docker := build["docker"].([]any)
	img := docker[0].(map[string]any)["image"]
	if img != "circleci/node" {
		t.Errorf("image = %v, want circleci/node", img)
	}
}
