package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/szandany/policyguard/internal/audit"
	"github.com/szandany/policyguard/internal/observability"
	"github.com/szandany/policyguard/internal/observability/logging"
	otelobs "github.com/szandany/policyguard/internal/observability/otel"
	"github.com/szandany/policyguard/internal/policy"
	"github.com/szandany/policyguard/internal/store"
	"github.com/szandany/policyguard/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "policyguard",
	Short: "Config policy decision engine",
	Long: `policyguard evaluates pipeline configurations against
organization-defined policies and produces auditable compliance decisions.`,
	Version:           version.BuildVersion(),
	SilenceErrors:     true,
	PersistentPreRunE: setupRun,
	PersistentPostRun: teardownRun,
}

var (
	logFileFlag      string
	logLevelFlag     string
	dbFlag           string
	otelFlag         bool
	otelEndpointFlag string
	otelProtocolFlag string
	otelInsecureFlag bool
)

var (
	runLogger logging.Logger
	runOtel   *otelobs.Handle
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logFileFlag, "log-file", "", "Write JSONL logs to this file (default stderr)")
	pf.StringVar(&logLevelFlag, "log-level", "info", "Log level: debug, info, warn, or error")
	pf.StringVar(&dbFlag, "db", "", "Path to the local database (default ~/.policyguard/policyguard.db)")
	pf.BoolVar(&otelFlag, "otel", false, "Enable OpenTelemetry tracing")
	pf.StringVar(&otelEndpointFlag, "otel-endpoint", "", "OTLP endpoint (default from OTEL_EXPORTER_OTLP_ENDPOINT)")
	pf.StringVar(&otelProtocolFlag, "otel-protocol", otelobs.ProtocolHTTP, "OTLP protocol: otlphttp or otlpgrpc")
	pf.BoolVar(&otelInsecureFlag, "otel-insecure", false, "Allow insecure OTLP connections")

	rootCmd.AddCommand(GetDecideCmd())
	rootCmd.AddCommand(GetPolicyCmd())
	rootCmd.AddCommand(GetLogsCmd())
}

func setupRun(cmd *cobra.Command, args []string) error {
	ctx := observability.WithRequestID(cmd.Context())

	logCfg := logging.Config{
		Format: "jsonl",
		Level:  logLevelFlag,
		Output: logFileFlag,
	}
	log, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	runLogger = log
	ctx = logging.WithLogger(ctx, log)

	if otelFlag {
		otelCfg := otelobs.DefaultConfig()
		otelCfg.Enabled = true
		otelCfg.Endpoint = otelEndpointFlag
		otelCfg.Protocol = otelProtocolFlag
		otelCfg.Insecure = otelInsecureFlag
		handle, err := otelobs.Init(ctx, otelCfg)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		runOtel = handle
		ctx = otelobs.WithHandle(ctx, handle)
	}

	cmd.SetContext(ctx)
	return nil
}

func teardownRun(cmd *cobra.Command, args []string) {
	if runOtel != nil {
		_ = runOtel.Shutdown(cmd.Context())
	}
	if runLogger != nil {
		_ = runLogger.Close()
	}
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		// Load and collaborator failures are distinguishable from a
		// blocking policy decision.
		if errors.Is(err, policy.ErrLoad) ||
			errors.Is(err, store.ErrStore) ||
			errors.Is(err, store.ErrNotFound) ||
			errors.Is(err, audit.ErrStore) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// dbPath resolves the local database location.
func dbPath() (string, error) {
	if dbFlag != "" {
		return dbFlag, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".policyguard")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return filepath.Join(dir, "policyguard.db"), nil
}
