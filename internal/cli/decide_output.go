package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/szandany/policyguard/internal/models"
)

// FormatDecisionJSON renders the decision artifact for machine
// consumers. The shape is stable: status plus itemized failures.
func FormatDecisionJSON(d *models.Decision) ([]byte, error) {
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to format JSON output: %w", err)
	}
	return out, nil
}

var (
	passColor = color.New(color.FgGreen, color.Bold)
	softColor = color.New(color.FgYellow, color.Bold)
	hardColor = color.New(color.FgRed, color.Bold)
)

// FormatDecisionText renders a human-readable decision.
func FormatDecisionText(d *models.Decision) string {
	var b strings.Builder

	b.WriteString("Decision: ")
	switch d.Status {
	case models.StatusPass:
		b.WriteString(passColor.Sprint(string(d.Status)))
	case models.StatusSoftFail:
		b.WriteString(softColor.Sprint(string(d.Status)))
	default:
		b.WriteString(hardColor.Sprint(string(d.Status)))
	}
	b.WriteString("\n")

	writeViolations(&b, "Hard failures", d.HardFailures, hardColor)
	writeViolations(&b, "Soft failures", d.SoftFailures, softColor)

	if len(d.RuleErrors) > 0 {
		b.WriteString("\nRule errors (policy itself is broken):\n")
		for _, e := range d.RuleErrors {
			fmt.Fprintf(&b, "  ! %s: %s\n", e.Rule, e.Error)
		}
	}

	return b.String()
}

func writeViolations(b *strings.Builder, title string, vs []models.Violation, c *color.Color) {
	if len(vs) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s (%d):\n", title, len(vs))
	for _, v := range vs {
		label := v.Rule
		if v.ID != "" {
			label += "[" + v.ID + "]"
		}
		fmt.Fprintf(b, "  %s %s: %s\n", c.Sprint("✗"), label, v.Reason)
	}
}
