// Package policy provides the rule bundle loader, the CEL evaluation
// engine, and the enforcement aggregator.
package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/szandany/policyguard/internal/models"
	"github.com/szandany/policyguard/internal/pipeline"
)

// ErrLoad marks a malformed policy source. Load errors are fatal to a
// decision request and are reported before any evaluation begins.
var ErrLoad = errors.New("invalid policy source")

func loadErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLoad, fmt.Sprintf(format, args...))
}

// LoadResult is a validated bundle plus non-fatal diagnostics.
type LoadResult struct {
	Bundle   *models.Bundle
	Warnings []string
}

// Load reads a policy bundle from a single YAML file or a directory.
// Directory bundling is non-recursive: only top-level *.yml and *.yaml
// files are included, merged in lexicographic file order.
func Load(path string) (*LoadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, loadErr("%v", err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, loadErr("%v", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := filepath.Ext(e.Name())
			if ext == ".yml" || ext == ".yaml" {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(files)
		if len(files) == 0 {
			return nil, loadErr("no policy files in %s", path)
		}
	} else {
		files = []string{path}
	}

	sources := make([][]byte, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, loadErr("%v", err)
		}
		sources = append(sources, data)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Parse(name, sources)
}

// Parse merges one or more policy documents into a single validated
// bundle. All documents must declare the same package namespace.
func Parse(name string, sources [][]byte) (*LoadResult, error) {
	merged := &models.Bundle{Name: name}
	var warnings []string

	for _, src := range sources {
		var b models.Bundle
		if err := yaml.Unmarshal(src, &b); err != nil {
			return nil, loadErr("%v", err)
		}
		if b.Package == "" {
			return nil, loadErr("missing package declaration")
		}
		if merged.Package == "" {
			merged.Package = b.Package
		} else if merged.Package != b.Package {
			return nil, loadErr("conflicting packages %q and %q; a bundle has one namespace",
				merged.Package, b.Package)
		}
		if b.Name != "" && len(sources) == 1 {
			merged.Name = b.Name
		}
		if b.Version != "" {
			merged.Version = b.Version
		}
		merged.Rules = append(merged.Rules, b.Rules...)
		merged.Enforce = append(merged.Enforce, b.Enforce...)
		merged.Enable = append(merged.Enable, b.Enable...)
	}

	if err := resolve(merged, &warnings); err != nil {
		return nil, err
	}
	if err := Validate(merged); err != nil {
		return nil, err
	}

	return &LoadResult{Bundle: merged, Warnings: warnings}, nil
}

// resolve applies enforce/enable declarations onto the rules and
// checks referential integrity.
func resolve(b *models.Bundle, warnings *[]string) error {
	byName := make(map[string]int, len(b.Rules))
	for i, r := range b.Rules {
		if r.Name == "" {
			return loadErr("rule %d has no name", i)
		}
		if _, dup := byName[r.Name]; dup {
			return loadErr("duplicate rule name %q", r.Name)
		}
		byName[r.Name] = i
		b.Rules[i].Level = models.LevelSoftFail
	}

	enforced := map[string]struct{}{}
	for _, e := range b.Enforce {
		i, ok := byName[e.Rule]
		if !ok {
			return loadErr("enforcement references undefined rule %q", e.Rule)
		}
		level := e.Level
		if level == "" {
			level = models.LevelSoftFail
		}
		if !level.Valid() {
			return loadErr("rule %q: unknown enforcement level %q", e.Rule, e.Level)
		}
		if _, dup := enforced[e.Rule]; dup {
			*warnings = append(*warnings,
				fmt.Sprintf("rule %q enforced more than once; keeping %s", e.Rule, level))
		}
		enforced[e.Rule] = struct{}{}
		b.Rules[i].Level = level
	}

	for _, name := range b.Enable {
		i, ok := byName[name]
		if !ok {
			return loadErr("enable references undefined rule %q", name)
		}
		b.Rules[i].Enabled = true
	}

	return nil
}

// Validate checks the shape and compiles every expression of every
// enabled rule. Disabled rules are helpers and are left unchecked.
func Validate(b *models.Bundle) error {
	env, err := newEnv(pipeline.New(nil))
	if err != nil {
		return fmt.Errorf("policy environment: %w", err)
	}

	compile := func(rule, expr string) error {
		_, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return loadErr("rule %q: %v", rule, issues.Err())
		}
		return nil
	}

	for _, r := range b.Rules {
		if !r.Enabled {
			continue
		}

		variants := 0
		if r.Check != "" {
			variants++
		}
		if len(r.Clauses) > 0 {
			variants++
		}
		if r.ForEach != nil {
			variants++
		}
		if variants != 1 {
			return loadErr("rule %q must define exactly one of check, clauses, for_each", r.Name)
		}

		switch {
		case r.Check != "":
			if r.Reason == "" {
				return loadErr("rule %q: check requires a reason", r.Name)
			}
			if err := compile(r.Name, r.Check); err != nil {
				return err
			}
			if err := compile(r.Name, r.Reason); err != nil {
				return err
			}

		case len(r.Clauses) > 0:
			for j, c := range r.Clauses {
				if c.When == "" || c.Reason == "" {
					return loadErr("rule %q clause %d: when and reason are required", r.Name, j)
				}
				if err := compile(r.Name, c.When); err != nil {
					return err
				}
				if err := compile(r.Name, c.Reason); err != nil {
					return err
				}
			}

		case r.ForEach != nil:
			f := r.ForEach
			if f.Over == "" || f.Reason == "" {
				return loadErr("rule %q: for_each requires over and reason", r.Name)
			}
			for _, expr := range []string{f.Over, f.Where, f.ID, f.Reason} {
				if expr == "" {
					continue
				}
				if err := compile(r.Name, expr); err != nil {
					return err
				}
			}
		}
	}

	return nil
}
