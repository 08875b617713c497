package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/szandany/policyguard/internal/audit"
	"github.com/szandany/policyguard/internal/policy"
)

// logsCmd queries the decision log
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query the decision audit log",
	Long: `Retrieves audit records, newest first, rendered as JSONL.

All filters are optional and combine with logical AND.

Examples:
  policyguard logs --project-id api --branch main
  policyguard logs --after 2026-08-01T00:00:00Z --out decisions.jsonl`,
	RunE:         runLogs,
	SilenceUsage: true,
}

var (
	logsAfterFlag   string
	logsBeforeFlag  string
	logsProjectFlag string
	logsBranchFlag  string
	logsOutFlag     string
)

func init() {
	logsCmd.Flags().StringVar(&logsAfterFlag, "after", "", "Only records at or after this time (RFC3339 or YYYY-MM-DD)")
	logsCmd.Flags().StringVar(&logsBeforeFlag, "before", "", "Only records at or before this time (RFC3339 or YYYY-MM-DD)")
	logsCmd.Flags().StringVar(&logsProjectFlag, "project-id", "", "Only records for this project")
	logsCmd.Flags().StringVar(&logsBranchFlag, "branch", "", "Only records for this branch")
	logsCmd.Flags().StringVar(&logsOutFlag, "out", "", "Write records to this file instead of stdout")
}

// GetLogsCmd export
func GetLogsCmd() *cobra.Command {
	return logsCmd
}

func runLogs(cmd *cobra.Command, args []string) error {
	filter := audit.Filter{
		Project: logsProjectFlag,
		Branch:  logsBranchFlag,
	}

	var err error
	if filter.After, err = parseTimeFlag(logsAfterFlag); err != nil {
		return err
	}
	if filter.Before, err = parseTimeFlag(logsBeforeFlag); err != nil {
		return err
	}

	path, err := dbPath()
	if err != nil {
		return err
	}
	st, err := audit.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.Query(cmd.Context(), filter)
	if err != nil {
		return err
	}

	out := os.Stdout
	if logsOutFlag != "" {
		f, err := os.Create(logsOutFlag)
		if err != nil {
			return fmt.Errorf("%w: %v", audit.ErrStore, err)
		}
		defer f.Close()
		out = f
	}
	return audit.WriteJSONL(out, records)
}

func parseTimeFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: bad time %q (use RFC3339 or YYYY-MM-DD)", policy.ErrLoad, s)
}
