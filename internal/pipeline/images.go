package pipeline

import (
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/szandany/policyguard/internal/document"
)

// collectImages gathers every docker image string declared under a
// "docker" executor list anywhere in the document, de-duplicated on
// first occurrence in traversal order. Registries are resolved through
// go-containerregistry's reference parser; an unparseable reference is
// kept verbatim with an empty registry.
func (h *Helpers) collectImages() {
	seen := map[string]struct{}{}

	document.Walk(h.doc, func(p document.Path, v any) bool {
		if p.Last() != "docker" {
			return true
		}
		seq, ok := v.([]any)
		if !ok {
			return true
		}
		for _, entry := range seq {
			img, ok := document.Project(entry, "image")
			if !ok {
				continue
			}
			s, ok := img.(string)
			if !ok || s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			h.images = append(h.images, s)
			h.registries[s] = imageRegistry(s)
		}
		return true
	})
}

// Images returns the declared docker images, first occurrence order.
func (h *Helpers) Images() []string {
	return append([]string(nil), h.images...)
}

// ImageRegistries maps each declared image to its registry host.
func (h *Helpers) ImageRegistries() map[string]string {
	out := make(map[string]string, len(h.registries))
	for k, v := range h.registries {
		out[k] = v
	}
	return out
}

// RequireImageRegistry reports whether every declared image resolves
// to one of the allowed registry hosts.
func (h *Helpers) RequireImageRegistry(allowed []string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	for _, img := range h.images {
		if _, ok := set[h.registries[img]]; !ok {
			return false
		}
	}
	return true
}

func imageRegistry(ref string) string {
	parsed, err := name.ParseReference(ref, name.WeakValidation)
	if err != nil {
		return ""
	}
	return parsed.Context().RegistryStr()
}
