package models

// Status is the aggregate verdict for one evaluation request.
type Status string

const (
	StatusPass     Status = "PASS"
	StatusSoftFail Status = "SOFT_FAIL"
	StatusHardFail Status = "HARD_FAIL"
)

// Violation is one rule firing against the input document. ID
// distinguishes multiple firings of the same rule (one per offending
// element); a rule without ids fires at most once per evaluation.
type Violation struct {
	Rule   string `json:"rule"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// RuleError reports a rule whose own logic failed at runtime. It is a
// diagnostic, deliberately a different shape from a Violation: clients
// can tell "config violates a policy" from "policy itself is broken".
type RuleError struct {
	Rule  string `json:"rule"`
	Error string `json:"error"`
}

// Decision is the evaluation artifact. Immutable once returned.
type Decision struct {
	Status       Status      `json:"status"`
	HardFailures []Violation `json:"hard_failures"`
	SoftFailures []Violation `json:"soft_failures"`
	RuleErrors   []RuleError `json:"rule_errors,omitempty"`
}

// Blocking reports whether the decision must block the dependent
// action.
func (d *Decision) Blocking() bool {
	return d.Status == StatusHardFail
}
