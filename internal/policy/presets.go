package policy

import (
	"embed"
	"fmt"
)

//go:embed presets/*.yaml
var presetFS embed.FS

// presetFiles maps preset names to embedded bundle paths
var presetFiles = map[string]string{
	"baseline": "presets/baseline.yaml",
	"strict":   "presets/strict.yaml",
}

// GetPreset loads a built-in bundle by name, or nil if not found.
func GetPreset(name string) *LoadResult {
	path, ok := presetFiles[name]
	if !ok {
		return nil
	}
	data, err := presetFS.ReadFile(path)
	if err != nil {
		return nil
	}
	res, err := Parse(name, [][]byte{data})
	if err != nil {
		return nil
	}
	return res
}

// ListPresetNames returns the names of all built-in bundles.
func ListPresetNames() []string {
	names := make([]string, 0, len(presetFiles))
	for name := range presetFiles {
		names = append(names, name)
	}
	return names
}

// MustGetPreset returns a preset or panics (for tests)
func MustGetPreset(name string) *LoadResult {
	p := GetPreset(name)
	if p == nil {
		panic(fmt.Sprintf("preset %q not found", name))
	}
	return p
}
