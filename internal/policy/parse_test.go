package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/szandany/policyguard/internal/models"
)

func parseOne(t *testing.T, src string) (*LoadResult, error) {
	t.Helper()
	return Parse("test", [][]byte{[]byte(src)})
}

func TestParseAppliesDefaults(t *testing.T) {
	res, err := parseOne(t, `
package: org
rules:
  - name: helper_rule
  - name: version_present
    check: 'has(input.version)'
    reason: '"version must be defined"'
enable:
  - version_present
`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	b := res.Bundle
	if b.Package != "org" {
		t.Errorf("package = %q", b.Package)
	}
	if b.Rules[0].Enabled {
		t.Error("rules are disabled by default")
	}
	if b.Rules[0].Level != models.LevelSoftFail {
		t.Errorf("default level = %q, want soft_fail", b.Rules[0].Level)
	}
	if !b.Rules[1].Enabled {
		t.Error("enable list was not applied")
	}
}

func TestParseLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			"missing package",
			"rules:\n  - name: r\n",
			"missing package",
		},
		{
			"duplicate rule name",
			"package: org\nrules:\n  - name: r\n  - name: r\n",
			"duplicate rule name",
		},
		{
			"dangling enforcement",
			"package: org\nrules:\n  - name: r\nenforce:\n  - rule: ghost\n",
			"undefined rule",
		},
		{
			"dangling enable",
			"package: org\nrules:\n  - name: r\nenable:\n  - ghost\n",
			"undefined rule",
		},
		{
			"invalid level",
			"package: org\nrules:\n  - name: r\nenforce:\n  - rule: r\n    level: explode\n",
			"unknown enforcement level",
		},
		{
			"enabled rule without evaluation",
			"package: org\nrules:\n  - name: r\nenable:\n  - r\n",
			"exactly one of",
		},
		{
			"check without reason",
			"package: org\nrules:\n  - name: r\n    check: 'true'\nenable:\n  - r\n",
			"requires a reason",
		},
		{
			"bad expression",
			"package: org\nrules:\n  - name: r\n    check: 'has('\n    reason: '\"x\"'\nenable:\n  - r\n",
			"rule \"r\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseOne(t, tt.src)
			if err == nil {
				t.Fatal("expected load error")
			}
			if !errors.Is(err, ErrLoad) {
				t.Errorf("error %v is not an ErrLoad", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseDisabledRulesAreNotCompiled(t *testing.T) {
	// disabled rules may be helpers that do not conform to the
	// violation-output shape; their expressions stay unchecked
	_, err := parseOne(t, `
package: org
rules:
  - name: broken_helper
    check: 'this is not CEL (('
`)
	if err != nil {
		t.Fatalf("disabled rule was compiled: %v", err)
	}
}

func TestParseConflictingNamespaces(t *testing.T) {
	_, err := Parse("test", [][]byte{
		[]byte("package: org\nrules:\n  - name: a\n"),
		[]byte("package: other\nrules:\n  - name: b\n"),
	})
	if err == nil || !strings.Contains(err.Error(), "one namespace") {
		t.Fatalf("expected namespace conflict error, got %v", err)
	}
}

func TestParseMergesAcrossFiles(t *testing.T) {
	res, err := Parse("bundle", [][]byte{
		[]byte("package: org\nrules:\n  - name: a\n    check: 'true'\n    reason: '\"a\"'\n"),
		[]byte("package: org\nrules:\n  - name: b\nenable:\n  - a\nenforce:\n  - rule: a\n    level: hard_fail\n"),
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(res.Bundle.Rules) != 2 {
		t.Fatalf("merged %d rules, want 2", len(res.Bundle.Rules))
	}
	if !res.Bundle.Rules[0].Enabled || res.Bundle.Rules[0].Level != models.LevelHardFail {
		t.Error("enable/enforce from a later file must apply to rules of an earlier one")
	}
}

func TestLoadDirectoryNonRecursive(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	write("a.yaml", "package: org\nrules:\n  - name: a\n")
	write("b.yml", "package: org\nrules:\n  - name: b\n")
	write("notes.txt", "ignored")
	write("sub/c.yaml", "package: org\nrules:\n  - name: c\n")

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(res.Bundle.Rules) != 2 {
		t.Errorf("loaded %d rules, want 2 (top-level files only)", len(res.Bundle.Rules))
	}
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, ErrLoad) {
		t.Fatalf("expected ErrLoad, got %v", err)
	}
}
