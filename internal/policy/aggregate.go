package policy

import (
	"github.com/szandany/policyguard/internal/models"
)

// aggregate partitions fired violations by enforcement level and
// computes the status. Pure classification: results arrive in rule
// declaration order and violations keep their per-rule emission order,
// so the output is stable across runs.
//
// A rule evaluation error fails closed: it forces HARD_FAIL unless
// failOpen is set, and is always reported separately from violations.
func aggregate(results []ruleResult, failOpen bool) *models.Decision {
	d := &models.Decision{
		HardFailures: []models.Violation{},
		SoftFailures: []models.Violation{},
	}

	for _, r := range results {
		if r.err != nil {
			d.RuleErrors = append(d.RuleErrors, models.RuleError{
				Rule:  r.rule.Name,
				Error: r.err.Error(),
			})
			continue
		}
		switch r.rule.Level {
		case models.LevelHardFail:
			d.HardFailures = append(d.HardFailures, r.violations...)
		default:
			d.SoftFailures = append(d.SoftFailures, r.violations...)
		}
	}

	switch {
	case len(d.HardFailures) > 0:
		d.Status = models.StatusHardFail
	case len(d.RuleErrors) > 0 && !failOpen:
		d.Status = models.StatusHardFail
	case len(d.SoftFailures) > 0:
		d.Status = models.StatusSoftFail
	default:
		d.Status = models.StatusPass
	}
	return d
}
