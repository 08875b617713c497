package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/szandany/policyguard/internal/observability/logging"
	"github.com/szandany/policyguard/internal/policy"
	"github.com/szandany/policyguard/internal/store"
)

// policyCmd group
var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy management commands",
	Long:  `Manage the stored policy set the decision engine consumes.`,
}

var (
	policyOwnerFlag  string
	policyNameFlag   string
	policyFileFlag   string
	policyActiveFlag bool
	policyFromFlag   int
	policyToFlag     int
)

var policyPushCmd = &cobra.Command{
	Use:   "push --file <policy.yaml> --name <name>",
	Short: "Validate and store a policy",
	Long: `Validates a policy document and stores it. New policies start active
and join the owner's active set immediately.

Example:
  policyguard policy push --file security.yaml --name security --owner acme`,
	RunE:         runPolicyPush,
	SilenceUsage: true,
}

var policyListCmd = &cobra.Command{
	Use:          "list",
	Short:        "List stored policies",
	RunE:         runPolicyList,
	SilenceUsage: true,
}

var policyFetchCmd = &cobra.Command{
	Use:          "fetch <policy-id>",
	Short:        "Print a stored policy's content",
	Args:         cobra.ExactArgs(1),
	RunE:         runPolicyFetch,
	SilenceUsage: true,
}

var policyUpdateCmd = &cobra.Command{
	Use:          "update <policy-id> --file <policy.yaml>",
	Short:        "Replace a stored policy's content",
	Args:         cobra.ExactArgs(1),
	RunE:         runPolicyUpdate,
	SilenceUsage: true,
}

var policyDeleteCmd = &cobra.Command{
	Use:          "delete <policy-id>",
	Short:        "Delete a stored policy",
	Args:         cobra.ExactArgs(1),
	RunE:         runPolicyDelete,
	SilenceUsage: true,
}

var policyActivateCmd = &cobra.Command{
	Use:          "activate <policy-id>",
	Short:        "Add a policy to the active set",
	Args:         cobra.ExactArgs(1),
	RunE:         makeActivateRun(true),
	SilenceUsage: true,
}

var policyDeactivateCmd = &cobra.Command{
	Use:          "deactivate <policy-id>",
	Short:        "Remove a policy from the active set",
	Args:         cobra.ExactArgs(1),
	RunE:         makeActivateRun(false),
	SilenceUsage: true,
}

var policyDiffCmd = &cobra.Command{
	Use:          "diff <policy-id> --from <rev> --to <rev>",
	Short:        "Show what changed between two revisions",
	Long:         `Prints the JSON patch between two stored revisions of a policy.`,
	Args:         cobra.ExactArgs(1),
	RunE:         runPolicyDiff,
	SilenceUsage: true,
}

var policyValidateCmd = &cobra.Command{
	Use:          "validate <file|dir>",
	Short:        "Validate a policy source without storing it",
	Args:         cobra.ExactArgs(1),
	RunE:         runPolicyValidate,
	SilenceUsage: true,
}

func init() {
	policyCmd.PersistentFlags().StringVar(&policyOwnerFlag, "owner", "", "Owner/organization identifier")
	policyPushCmd.Flags().StringVar(&policyFileFlag, "file", "", "Policy file to store")
	policyPushCmd.Flags().StringVar(&policyNameFlag, "name", "", "Policy name")
	_ = policyPushCmd.MarkFlagRequired("file")
	policyListCmd.Flags().BoolVar(&policyActiveFlag, "active", false, "Only list active policies")
	policyUpdateCmd.Flags().StringVar(&policyFileFlag, "file", "", "New policy content")
	_ = policyUpdateCmd.MarkFlagRequired("file")
	policyDiffCmd.Flags().IntVar(&policyFromFlag, "from", 1, "Base revision")
	policyDiffCmd.Flags().IntVar(&policyToFlag, "to", 0, "Target revision (default: latest)")

	policyCmd.AddCommand(policyPushCmd)
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyFetchCmd)
	policyCmd.AddCommand(policyUpdateCmd)
	policyCmd.AddCommand(policyDeleteCmd)
	policyCmd.AddCommand(policyActivateCmd)
	policyCmd.AddCommand(policyDeactivateCmd)
	policyCmd.AddCommand(policyDiffCmd)
	policyCmd.AddCommand(policyValidateCmd)
}

// GetPolicyCmd export
func GetPolicyCmd() *cobra.Command {
	return policyCmd
}

func openStore() (store.Store, error) {
	path, err := dbPath()
	if err != nil {
		return nil, err
	}
	return store.Open(path)
}

func runPolicyPush(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(policyFileFlag)
	if err != nil {
		return fmt.Errorf("%w: %v", policy.ErrLoad, err)
	}

	name := policyNameFlag
	if name == "" {
		base := policyFileFlag[strings.LastIndex(policyFileFlag, "/")+1:]
		name = strings.TrimSuffix(base, ".yaml")
		name = strings.TrimSuffix(name, ".yml")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := st.Create(cmd.Context(), policyOwnerFlag, name, string(content))
	if err != nil {
		return err
	}

	logging.From(cmd.Context()).Event(cmd.Context(), "policy.push", map[string]any{
		"policy_id": p.ID,
		"name":      p.Name,
	})
	fmt.Printf("Stored policy %q (id %s, revision %d)\n", p.Name, p.ID, p.Revision)
	return nil
}

func runPolicyList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	summaries, err := st.List(cmd.Context(), policyOwnerFlag, policyActiveFlag)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No policies stored.")
		return nil
	}
	for _, s := range summaries {
		state := "inactive"
		if s.Active {
			state = "active"
		}
		fmt.Printf("%s  %-20s rev %-3d %s\n", s.ID, s.Name, s.Revision, state)
	}
	return nil
}

func runPolicyFetch(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := st.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Print(p.Content)
	return nil
}

func runPolicyUpdate(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(policyFileFlag)
	if err != nil {
		return fmt.Errorf("%w: %v", policy.ErrLoad, err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sum, err := st.Update(cmd.Context(), args[0], string(content))
	if err != nil {
		return err
	}
	fmt.Printf("Updated policy %q to revision %d\n", sum.Name, sum.Revision)
	return nil
}

func runPolicyDelete(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted policy %s\n", args[0])
	return nil
}

func makeActivateRun(active bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		sum, err := st.SetActive(cmd.Context(), args[0], active)
		if err != nil {
			return err
		}
		state := "inactive"
		if sum.Active {
			state = "active"
		}
		fmt.Printf("Policy %q is now %s\n", sum.Name, state)
		return nil
	}
}

func runPolicyDiff(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	to := policyToFlag
	if to == 0 {
		p, err := st.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		to = p.Revision
	}

	patch, err := st.Diff(cmd.Context(), args[0], policyFromFlag, to)
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		fmt.Println("No changes.")
		return nil
	}
	out, err := json.MarshalIndent(patch, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format patch: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runPolicyValidate(cmd *cobra.Command, args []string) error {
	res, err := policy.Load(args[0])
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
	enabled := 0
	for _, r := range res.Bundle.Rules {
		if r.Enabled {
			enabled++
		}
	}
	fmt.Printf("Valid bundle %q (package %s): %d rules, %d enabled\n",
		res.Bundle.Name, res.Bundle.Package, len(res.Bundle.Rules), enabled)
	return nil
}
