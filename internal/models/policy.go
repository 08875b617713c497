package models

// Level classifies how a fired rule is enforced.
type Level string

const (
	// LevelHardFail blocks the dependent action.
	LevelHardFail Level = "hard_fail"
	// LevelSoftFail logs the violation but permits continuation.
	// Default when an enforcement declaration is absent.
	LevelSoftFail Level = "soft_fail"
)

// Valid reports whether l is a known enforcement level.
func (l Level) Valid() bool {
	return l == LevelHardFail || l == LevelSoftFail
}

// Bundle is a named, versioned collection of rules in one namespace,
// parsed from one or more YAML policy files.
type Bundle struct {
	Package string        `yaml:"package"`
	Name    string        `yaml:"name"`
	Version string        `yaml:"version"`
	Rules   []Rule        `yaml:"rules"`
	Enforce []Enforcement `yaml:"enforce"`
	Enable  []string      `yaml:"enable"`
}

// Rule is one named evaluation. Exactly one of Check, Clauses, or
// ForEach is set for an enabled rule; disabled rules are never
// evaluated and may leave all three empty.
//
// All expressions are CEL over the variable `input` (the configuration
// document) plus the built-in helper functions; reason expressions must
// produce a string, guards a bool. ForEach expressions additionally see
// `item`, the current candidate.
type Rule struct {
	Name string `yaml:"name"`

	// Check fires when the expression is false; Reason supplies the
	// violation text.
	Check  string `yaml:"check,omitempty"`
	Reason string `yaml:"reason,omitempty"`

	// Clauses model an if/elseif chain over failure causes: the first
	// clause whose guard holds emits its reason as the sole violation.
	Clauses []Clause `yaml:"clauses,omitempty"`

	// ForEach fires once per matching candidate, each an independent
	// violation keyed by id.
	ForEach *ForEach `yaml:"for_each,omitempty"`

	// Resolved at load time from the bundle's enforce/enable sections.
	Level   Level `yaml:"-"`
	Enabled bool  `yaml:"-"`
}

// Clause is one guarded failure cause.
type Clause struct {
	When   string `yaml:"when"`
	Reason string `yaml:"reason"`
}

// ForEach derives candidates from Over (a list, or a map iterated by
// sorted key), filters them with Where (optional, default everything),
// and emits one violation per match. ID is optional; a string
// candidate is its own id when ID is unset.
type ForEach struct {
	Over   string `yaml:"over"`
	Where  string `yaml:"where,omitempty"`
	ID     string `yaml:"id,omitempty"`
	Reason string `yaml:"reason"`
}

// Enforcement binds a rule name to a level. The name must refer to a
// defined rule; a dangling reference is a load error.
type Enforcement struct {
	Rule  string `yaml:"rule"`
	Level Level  `yaml:"level"`
}
