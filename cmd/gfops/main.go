package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/cmd/gfops/commands"
	"github.com/gameforge/gfops/internal/config"
	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/internal/logging"
)

// Injected at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configFile     string
		noColor        bool
		debug          bool
		nonInteractive bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "gfops",
		Short: "GameForge platform operations: secret rotation, backups, scans, deployment health",
		Long: `gfops operates the GameForge platform: it rotates secrets through Vault,
backs up Postgres and Redis, runs security scans, verifies deployments,
receives alerts, and keeps CI/CD secret stores in sync.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = config.ResolvePath(configFile)
			cfg.Logger = logging.New(debug, noColor)
			cfg.NonInteractive = nonInteractive
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default gfops.yaml, or GFOPS_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt; only stored approval grants count")

	rootCmd.AddCommand(
		commands.NewRotateCommand(cfg),
		commands.NewStatusCommand(cfg),
		commands.NewHistoryCommand(cfg),
		commands.NewApproveCommand(cfg),
		commands.NewScheduleCommand(cfg),
		commands.NewBackupCommand(cfg),
		commands.NewScanCommand(cfg),
		commands.NewVerifyCommand(cfg),
		commands.NewMonitorCommand(cfg),
		commands.NewAlertdCommand(cfg),
		commands.NewSyncCommand(cfg),
		commands.NewAuditCommand(cfg),
		commands.NewDoctorCommand(cfg),
		commands.NewLoginCommand(cfg),
		commands.NewLogoutCommand(cfg),
		commands.NewCompletionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		printError(err, debug)
		return exitCode(err)
	}
	return 0
}

// printError renders the error for the operator: the simplified message
// (with its suggestion) normally, the full chain under --debug.
func printError(err error, debug bool) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", gferrors.SimplifyError(err))

	if debug {
		for chain := err; chain != nil; chain = errors.Unwrap(chain) {
			fmt.Fprintf(os.Stderr, "  caused by: %v\n", chain)
		}
	}
}

// exitCode maps usage and configuration mistakes to 2, everything else
// that failed to 1.
func exitCode(err error) int {
	var userErr gferrors.UserError
	var cfgErr gferrors.ConfigError
	if errors.As(err, &userErr) || errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}
