package policy

import (
	"context"
	"testing"

	"github.com/szandany/policyguard/internal/document"
	"github.com/szandany/policyguard/internal/models"
)

func TestPresetsParse(t *testing.T) {
	for _, name := range ListPresetNames() {
		t.Run(name, func(t *testing.T) {
			res := GetPreset(name)
			if res == nil {
				t.Fatalf("preset %q did not load", name)
			}
			if len(res.Bundle.Rules) == 0 {
				t.Error("preset has no rules")
			}
		})
	}
}

func TestGetPresetUnknown(t *testing.T) {
	if GetPreset("nope") != nil {
		t.Error("unknown preset must return nil")
	}
}

func TestBaselinePresetVersionRule(t *testing.T) {
	res := MustGetPreset("baseline")

	doc, err := document.Decode([]byte("jobs: {}\n"))
	if err != nil {
		t.Fatal(err)
	}
	engine, err := NewEngine(doc)
	if err != nil {
		t.Fatal(err)
	}
	d, err := engine.Evaluate(context.Background(), res.Bundle)
	if err != nil {
		t.Fatal(err)
	}

	if d.Status != models.StatusHardFail {
		t.Fatalf("status = %s, want HARD_FAIL for a versionless config", d.Status)
	}
	found := false
	for _, v := range d.HardFailures {
		if v.Rule == "check_version" && v.Reason == "version must be defined" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing check_version violation, got %v", d.HardFailures)
	}
}

func TestStrictPresetImageRule(t *testing.T) {
	res := MustGetPreset("strict")

	doc, err := document.Decode([]byte(`
version: 2.1
jobs:
  build:
    docker:
      - image: evil/bad
`))
	if err != nil {
		t.Fatal(err)
	}
	engine, err := NewEngine(doc)
	if err != nil {
		t.Fatal(err)
	}
	d, err := engine.Evaluate(context.Background(), res.Bundle)
	if err != nil {
		t.Fatal(err)
	}

	if d.Status != models.StatusHardFail {
		t.Fatalf("status = %s, want HARD_FAIL for an unapproved image", d.Status)
	}
	found := false
	for _, v := range d.HardFailures {
		if v.Rule == "use_official_docker_image" && v.ID == "evil/bad" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing use_official_docker_image violation, got %v", d.HardFailures)
	}
}
