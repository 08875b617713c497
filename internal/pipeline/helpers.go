// Package pipeline implements the built-in helper predicates over a
// decoded pipeline configuration: job and orb introspection plus the
// require/ban families. Helpers are pure functions of the document and
// their literal arguments; they never error and never mutate the input.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/szandany/policyguard/internal/document"
)

// Helpers answers the built-in predicates for one document. Derived
// sets are computed once at construction so repeated calls from many
// rules share the work and stay deterministic.
type Helpers struct {
	doc          any
	jobs         []string
	declaredJobs map[string]struct{}
	referenced   map[string]struct{}
	orbs         map[string]string
	warnings     []string
	images       []string
	registries   map[string]string
}

// New builds the helper service for doc.
func New(doc any) *Helpers {
	h := &Helpers{
		doc:          doc,
		declaredJobs: map[string]struct{}{},
		referenced:   map[string]struct{}{},
		orbs:         map[string]string{},
		registries:   map[string]string{},
	}
	h.collectJobs()
	h.collectReferencedJobs()
	h.collectOrbs()
	h.collectImages()
	return h
}

// Jobs returns declared job names in declaration order.
func (h *Helpers) Jobs() []string {
	return append([]string(nil), h.jobs...)
}

// Orbs returns orb name -> version for every orb reference in the
// document's orb table. When two aliases pin different versions of the
// same orb the last declared wins; Warnings reports each conflict.
func (h *Helpers) Orbs() map[string]string {
	out := make(map[string]string, len(h.orbs))
	for k, v := range h.orbs {
		out[k] = v
	}
	return out
}

// Warnings returns non-fatal findings from document introspection.
func (h *Helpers) Warnings() []string {
	return append([]string(nil), h.warnings...)
}

// RequireJobs reports whether every name is declared under jobs and
// referenced by at least one workflow's job list.
func (h *Helpers) RequireJobs(names []string) bool {
	for _, n := range names {
		if _, ok := h.declaredJobs[n]; !ok {
			return false
		}
		if _, ok := h.referenced[n]; !ok {
			return false
		}
	}
	return true
}

// RequireOrbs reports whether every orb name is present.
func (h *Helpers) RequireOrbs(names []string) bool {
	for _, n := range names {
		if _, ok := h.orbs[n]; !ok {
			return false
		}
	}
	return true
}

// RequireOrbsVersion reports whether every "name@version" pair matches
// exactly. No semver range logic.
func (h *Helpers) RequireOrbsVersion(refs []string) bool {
	for _, ref := range refs {
		name, version, ok := splitRef(ref)
		if !ok {
			return false
		}
		if got, present := h.orbs[name]; !present || got != version {
			return false
		}
	}
	return true
}

// BanOrbs reports whether none of the orb names are present, i.e. the
// ban is satisfied.
func (h *Helpers) BanOrbs(names []string) bool {
	for _, n := range names {
		if _, ok := h.orbs[n]; ok {
			return false
		}
	}
	return true
}

// BanOrbsVersion reports whether none of the exact "name@version"
// pairs are present.
func (h *Helpers) BanOrbsVersion(refs []string) bool {
	for _, ref := range refs {
		name, version, ok := splitRef(ref)
		if !ok {
			continue
		}
		if got, present := h.orbs[name]; present && got == version {
			return false
		}
	}
	return true
}

func (h *Helpers) collectJobs() {
	jobs, ok := document.Project(h.doc, "jobs")
	if !ok {
		return
	}
	m, ok := jobs.(*document.Map)
	if !ok {
		return
	}
	for _, name := range m.Keys() {
		h.jobs = append(h.jobs, name)
		h.declaredJobs[name] = struct{}{}
	}
}

// collectReferencedJobs gathers every job name used by a workflow. The
// workflows collection may be a mapping (name -> workflow, with the
// schema "version" key mixed in) or a sequence of workflow objects;
// job-list entries may be bare strings or single-key mappings.
func (h *Helpers) collectReferencedJobs() {
	workflows, ok := document.Project(h.doc, "workflows")
	if !ok {
		return
	}

	var flows []any
	switch w := workflows.(type) {
	case *document.Map:
		for _, key := range w.Keys() {
			if key == "version" {
				continue
			}
			v, _ := w.Get(key)
			flows = append(flows, v)
		}
	case []any:
		flows = w
	default:
		return
	}

	for _, flow := range flows {
		jobList, ok := document.Project(flow, "jobs")
		if !ok {
			continue
		}
		seq, ok := jobList.([]any)
		if !ok {
			continue
		}
		for _, entry := range seq {
			switch e := entry.(type) {
			case string:
				h.referenced[e] = struct{}{}
			case *document.Map:
				for _, name := range e.Keys() {
					h.referenced[name] = struct{}{}
				}
			}
		}
	}
}

func (h *Helpers) collectOrbs() {
	orbs, ok := document.Project(h.doc, "orbs")
	if !ok {
		return
	}
	m, ok := orbs.(*document.Map)
	if !ok {
		return
	}
	for _, alias := range m.Keys() {
		v, _ := m.Get(alias)
		ref, ok := v.(string)
		if !ok {
			// inline orb definition, no version to record
			continue
		}
		name, version, ok := splitRef(ref)
		if !ok {
			h.warnings = append(h.warnings,
				fmt.Sprintf("orb alias %q: reference %q is not name@version", alias, ref))
			continue
		}
		if prev, present := h.orbs[name]; present && prev != version {
			h.warnings = append(h.warnings,
				fmt.Sprintf("orb %q declared at both %s and %s; keeping %s", name, prev, version, version))
		}
		h.orbs[name] = version
	}
}

// splitRef splits "name@version"; the name itself may contain "/".
func splitRef(ref string) (name, version string, ok bool) {
	idx := strings.LastIndex(ref, "@")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", false
	}
	return ref[:idx], ref[idx+1:], true
}
