package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/szandany/policyguard/internal/audit"
	"github.com/szandany/policyguard/internal/document"
	"github.com/szandany/policyguard/internal/models"
	"github.com/szandany/policyguard/internal/observability"
	"github.com/szandany/policyguard/internal/observability/logging"
	otelobs "github.com/szandany/policyguard/internal/observability/otel"
	"github.com/szandany/policyguard/internal/policy"
	"github.com/szandany/policyguard/internal/store"
)

// decideCmd evaluates a configuration against a policy set
var decideCmd = &cobra.Command{
	Use:   "decide --config <path> [--policy <file|dir>]",
	Short: "Evaluate a pipeline config against policies",
	Long: `Evaluates a pipeline configuration document against a policy bundle
and prints the decision.

The policy source is an explicit file or directory (--policy), a built-in
preset (--preset), or the owner's active policy set from the local store.
Directory bundling is non-recursive: only top-level files are included.

A HARD_FAIL decision exits 1 and must block the dependent action.
SOFT_FAIL exits 0 but the violations are durably logged. Load and
storage errors exit 2 and never masquerade as a decision.

Examples:
  # Evaluate against a policy directory
  policyguard decide --config .circleci/config.yml --policy ./policies --owner acme

  # Evaluate against the stored active policy set, tagging the request
  policyguard decide --config config.yml --owner acme --project api --branch main

  # CI usage: JSON output, soft failures also block
  policyguard decide --config config.yml --policy policy.yaml --owner acme --format=json --strict`,
	RunE:         runDecide,
	SilenceUsage: true,
}

var (
	decideConfigFlag   string
	decidePolicyFlag   string
	decidePresetFlag   string
	decideOwnerFlag    string
	decideProjectFlag  string
	decideBranchFlag   string
	decideFormatFlag   string
	decideStrictFlag   bool
	decideFailOpenFlag bool
	decideNoAuditFlag  bool
	decideTimeoutFlag  time.Duration
)

func init() {
	decideCmd.Flags().StringVar(&decideConfigFlag, "config", "", "Path to the pipeline configuration document")
	decideCmd.Flags().StringVar(&decidePolicyFlag, "policy", "", "Policy file or directory (overrides the stored active set)")
	decideCmd.Flags().StringVar(&decidePresetFlag, "preset", "", "Built-in policy preset: baseline or strict")
	decideCmd.Flags().StringVar(&decideOwnerFlag, "owner", "", "Owner/organization identifier")
	decideCmd.Flags().StringVar(&decideProjectFlag, "project", "", "Project identifier recorded in the audit log")
	decideCmd.Flags().StringVar(&decideBranchFlag, "branch", "", "Branch recorded in the audit log")
	decideCmd.Flags().StringVar(&decideFormatFlag, "format", "text", "Output format: text or json")
	decideCmd.Flags().BoolVar(&decideStrictFlag, "strict", false, "Treat SOFT_FAIL as blocking")
	decideCmd.Flags().BoolVar(&decideFailOpenFlag, "fail-open", false, "Report rule evaluation errors without forcing HARD_FAIL")
	decideCmd.Flags().BoolVar(&decideNoAuditFlag, "no-audit", false, "Skip writing the audit record")
	decideCmd.Flags().DurationVarP(&decideTimeoutFlag, "timeout", "t", 30*time.Second, "Timeout for the whole decision request")
	_ = decideCmd.MarkFlagRequired("config")
	_ = decideCmd.MarkFlagRequired("owner")
}

// GetDecideCmd export
func GetDecideCmd() *cobra.Command {
	return decideCmd
}

func runDecide(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	log := logging.From(ctx)
	start := time.Now()

	if h := otelobs.From(ctx); h != nil {
		var span trace.Span
		ctx, span = h.Tracer.Start(ctx, "policyguard.decide",
			trace.WithAttributes(
				attribute.String("policyguard.request_id", observability.RequestID(ctx)),
				attribute.String("policyguard.owner", decideOwnerFlag),
				attribute.String("policyguard.config", decideConfigFlag),
			))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed")
			} else {
				span.SetStatus(codes.Ok, "success")
			}
			span.End()
		}()
	}

	log.Event(ctx, "decide.start", nil)

	var resultStatus string
	defer func() {
		log.Event(ctx, "decide.complete", map[string]any{
			"duration_ms": time.Since(start).Milliseconds(),
			"result":      resultStatus,
		})
	}()

	if decideFormatFlag != "text" && decideFormatFlag != "json" {
		resultStatus = "fail"
		return fmt.Errorf("invalid format: %s (use text or json)", decideFormatFlag)
	}

	ctx, cancel := context.WithTimeout(ctx, decideTimeoutFlag)
	defer cancel()

	// Load the configuration document
	raw, readErr := os.ReadFile(decideConfigFlag)
	if readErr != nil {
		resultStatus = "fail"
		return fmt.Errorf("%w: %v", policy.ErrLoad, readErr)
	}
	doc, decodeErr := document.Decode(raw)
	if decodeErr != nil {
		resultStatus = "fail"
		return fmt.Errorf("%w: %v", policy.ErrLoad, decodeErr)
	}

	// Load the policy bundle
	bundle, loadErr := loadBundle(cmd, log)
	if loadErr != nil {
		resultStatus = "fail"
		return loadErr
	}

	engine, engErr := policy.NewEngine(doc)
	if engErr != nil {
		resultStatus = "fail"
		return engErr
	}
	for _, w := range engine.Helpers().Warnings() {
		log.Warn("decide", w)
	}

	var opts []policy.Option
	if decideFailOpenFlag {
		opts = append(opts, policy.WithFailOpen())
	}
	decision, evalErr := engine.Evaluate(ctx, bundle, opts...)
	if evalErr != nil {
		resultStatus = "fail"
		return fmt.Errorf("evaluation aborted: %w", evalErr)
	}

	// Persist the audit record before reporting so a SOFT_FAIL is
	// durably logged by the time the caller continues.
	if !decideNoAuditFlag {
		if auditErr := appendAudit(ctx, doc, decision); auditErr != nil {
			resultStatus = "fail"
			return auditErr
		}
	}

	if decideFormatFlag == "json" {
		out, jsonErr := FormatDecisionJSON(decision)
		if jsonErr != nil {
			resultStatus = "fail"
			return jsonErr
		}
		fmt.Println(string(out))
	} else {
		fmt.Print(FormatDecisionText(decision))
	}

	resultStatus = string(decision.Status)

	blocking := decision.Blocking() ||
		(decideStrictFlag && decision.Status == models.StatusSoftFail)
	if blocking {
		// JSON consumers parse stdout; exit directly so cobra's error
		// output cannot corrupt it.
		if decideFormatFlag == "json" {
			os.Exit(1)
		}
		return fmt.Errorf("policy decision: %s", decision.Status)
	}
	return nil
}

// loadBundle resolves the policy source: explicit path, preset, or the
// owner's active set from the local store.
func loadBundle(cmd *cobra.Command, log logging.Logger) (*models.Bundle, error) {
	switch {
	case decidePolicyFlag != "":
		res, err := policy.Load(decidePolicyFlag)
		if err != nil {
			return nil, err
		}
		logWarnings(log, res.Warnings)
		return res.Bundle, nil

	case decidePresetFlag != "":
		res := policy.GetPreset(decidePresetFlag)
		if res == nil {
			return nil, fmt.Errorf("%w: unknown preset %q", policy.ErrLoad, decidePresetFlag)
		}
		return res.Bundle, nil

	default:
		path, err := dbPath()
		if err != nil {
			return nil, err
		}
		st, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		defer st.Close()

		contents, err := st.ActiveContent(cmd.Context(), decideOwnerFlag)
		if err != nil {
			return nil, err
		}
		if len(contents) == 0 {
			return nil, fmt.Errorf("%w: no active policies for owner %q (use --policy or 'policyguard policy push')",
				policy.ErrLoad, decideOwnerFlag)
		}
		res, err := policy.Parse("active", contents)
		if err != nil {
			return nil, err
		}
		logWarnings(log, res.Warnings)
		return res.Bundle, nil
	}
}

func appendAudit(ctx context.Context, doc any, decision *models.Decision) error {
	path, err := dbPath()
	if err != nil {
		return err
	}
	st, err := audit.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	return st.Append(ctx, audit.Record{
		Owner:    decideOwnerFlag,
		Project:  decideProjectFlag,
		Branch:   decideBranchFlag,
		Status:   decision.Status,
		Decision: *decision,
		Input:    document.Plain(doc),
	})
}

func logWarnings(log logging.Logger, warnings []string) {
	for _, w := range warnings {
		log.Warn("policy", w)
	}
}
