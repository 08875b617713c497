package pipeline

import (
	"reflect"
	"testing"

	"github.com/szandany/policyguard/internal/document"
)

func helpersFor(t *testing.T, src string) *Helpers {
	t.Helper()
	doc, err := document.Decode([]byte(src))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return New(doc)
}

const sampleConfig = `
version: 2.1
orbs:
  slack: circleci/slack@4.1.0
  security: acme/security@2.0.0
jobs:
  build:
    docker:
      - image: circleci/node
  lint: {}
  deploy: {}
workflows:
  main:
    jobs:
      - build
      - deploy:
          requires: [build]
`

func TestJobsDeclarationOrder(t *testing.T) {
	h := helpersFor(t, sampleConfig)
	want := []string{"build", "lint", "deploy"}
	if got := h.Jobs(); !reflect.DeepEqual(got, want) {
		t.Errorf("Jobs() = %v, want %v", got, want)
	}
}

func TestOrbs(t *testing.T) {
	h := helpersFor(t, sampleConfig)
	want := map[string]string{
		"circleci/slack": "4.1.0",
		"acme/security":  "2.0.0",
	}
	if got := h.Orbs(); !reflect.DeepEqual(got, want) {
		t.Errorf("Orbs() = %v, want %v", got, want)
	}
}

func TestOrbsDuplicateLastWins(t *testing.T) {
	h := helpersFor(t, `
orbs:
  slack_old: circleci/slack@3.0.0
  slack: circleci/slack@4.1.0
`)
	orbs := h.Orbs()
	if orbs["circleci/slack"] != "4.1.0" {
		t.Errorf("duplicate orb = %q, want last-declared 4.1.0", orbs["circleci/slack"])
	}
	if len(h.Warnings()) != 1 {
		t.Errorf("warnings = %v, want one duplicate-version warning", h.Warnings())
	}
}

func TestOrbsSkipsInlineDefinitions(t *testing.T) {
	h := helpersFor(t, `
orbs:
  inline:
    jobs:
      hello: {}
  slack: circleci/slack@4.1.0
`)
	if got := len(h.Orbs()); got != 1 {
		t.Errorf("Orbs() has %d entries, want 1", got)
	}
}

func TestRequireJobs(t *testing.T) {
	h := helpersFor(t, sampleConfig)

	tests := []struct {
		name  string
		names []string
		want  bool
	}{
		{"declared and referenced", []string{"build"}, true},
		{"both referenced", []string{"build", "deploy"}, true},
		{"declared but never referenced", []string{"lint"}, false},
		{"undeclared", []string{"ghost"}, false},
		{"empty set", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.RequireJobs(tt.names); got != tt.want {
				t.Errorf("RequireJobs(%v) = %v, want %v", tt.names, got, tt.want)
			}
		})
	}
}

func TestRequireJobsWorkflowSequence(t *testing.T) {
	// workflows may also be a sequence of workflow objects
	h := helpersFor(t, `
jobs:
  build: {}
workflows:
  - jobs: ["build"]
`)
	if !h.RequireJobs([]string{"build"}) {
		t.Error("RequireJobs should accept sequence-shaped workflows")
	}
}

func TestRequireOrbs(t *testing.T) {
	h := helpersFor(t, sampleConfig)
	if !h.RequireOrbs([]string{"circleci/slack", "acme/security"}) {
		t.Error("RequireOrbs should hold for present orbs")
	}
	if h.RequireOrbs([]string{"circleci/slack", "missing/orb"}) {
		t.Error("RequireOrbs should fail when any orb is absent")
	}
}

func TestRequireOrbsVersionExactMatch(t *testing.T) {
	h := helpersFor(t, sampleConfig)
	if !h.RequireOrbsVersion([]string{"circleci/slack@4.1.0"}) {
		t.Error("exact version should match")
	}
	if h.RequireOrbsVersion([]string{"circleci/slack@4.1"}) {
		t.Error("no semver range logic: 4.1 must not match 4.1.0")
	}
	if h.RequireOrbsVersion([]string{"not-a-ref"}) {
		t.Error("malformed ref should not satisfy the requirement")
	}
}

func TestBanOrbs(t *testing.T) {
	h := helpersFor(t, sampleConfig)
	if !h.BanOrbs([]string{"evil/orb"}) {
		t.Error("ban of an absent orb is satisfied")
	}
	if h.BanOrbs([]string{"circleci/slack"}) {
		t.Error("ban of a present orb is violated")
	}
}

func TestBanOrbsVersion(t *testing.T) {
	h := helpersFor(t, sampleConfig)
	if h.BanOrbsVersion([]string{"circleci/slack@4.1.0"}) {
		t.Error("exact banned version present, ban violated")
	}
	if !h.BanOrbsVersion([]string{"circleci/slack@9.9.9"}) {
		t.Error("different version, ban satisfied")
	}
}

// ban_orbs and require_orbs are complementary on disjoint name sets:
// when no name in S is present, ban_orbs(S) holds and require_orbs(S)
// holds only for empty S.
func TestBanRequireComplementarity(t *testing.T) {
	h := helpersFor(t, sampleConfig)
	absent := []string{"ghost/one", "ghost/two"}

	if !h.BanOrbs(absent) {
		t.Error("BanOrbs over absent names must hold")
	}
	if h.RequireOrbs(absent) {
		t.Error("RequireOrbs over absent non-empty names must fail")
	}
	if !h.RequireOrbs(nil) {
		t.Error("RequireOrbs over the empty set must hold")
	}
}

func TestHelpersOnEmptyDocument(t *testing.T) {
	h := New(nil)
	if got := h.Jobs(); len(got) != 0 {
		t.Errorf("Jobs() on nil doc = %v", got)
	}
	if !h.BanOrbs([]string{"any/orb"}) {
		t.Error("BanOrbs on nil doc should hold")
	}
	if h.RequireJobs([]string{"a"}) {
		t.Error("RequireJobs on nil doc should fail")
	}
}
