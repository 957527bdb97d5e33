package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/metrics"
	"github.com/gameforge/gfops/internal/rotation"
)

func NewRotateCommand(cfg *config.Config) *cobra.Command {
	var (
		force  bool
		dryRun bool
		yes    bool
		delay  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "rotate [type...]",
		Short: "Rotate due (or forced) secret types",
		Long: `Rotate secrets through Vault, one type at a time in canonical order
(root, database, tls, application, internal).

Without arguments every type is considered; only due types actually
rotate unless --force is given. Critical types (root, database by
default) additionally need an approval grant from 'gfops approve', or
--yes at an interactive terminal.

Examples:
  # Rotate whatever is due
  gfops rotate

  # Force the application secrets now
  gfops rotate application --force

  # See what would happen without touching anything
  gfops rotate --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			types := make([]rotation.SecretType, 0, len(args))
			for _, arg := range args {
				t, err := rotation.ParseType(arg)
				if err != nil {
					return err
				}
				types = append(types, t)
			}
			return runRotate(cmd.Context(), cfg, types, force, dryRun, yes, delay)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rotate regardless of schedule")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would rotate without changing anything")
	cmd.Flags().BoolVar(&yes, "yes", false, "Approve critical types from the terminal (ignored with --non-interactive)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Override the pause between rotations")

	return cmd
}

func runRotate(ctx context.Context, cfg *config.Config, types []rotation.SecretType, force, dryRun, yes bool, delay time.Duration) error {
	def, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	store, err := newVaultClient(cfg, def)
	if err != nil {
		return err
	}

	files := newStateStore(def)
	orch, err := newOrchestrator(cfg, def, store, files)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier, err := newNotifier(ctx, cfg, def)
	if err != nil {
		return err
	}
	defer notifier.Stop()

	metrics.Init()
	orch.SetNotifier(notifier)
	orch.SetAuditRecorder(newAuditor(cfg, def))

	req := rotation.RunRequest{
		Types:          types,
		Environment:    def.Environment,
		Force:          force,
		DryRun:         dryRun,
		Delay:          delay,
		TriggeredBy:    "manual",
		NonInteractive: cfg.NonInteractive,
	}
	if delay == 0 {
		req.Delay = def.Rotation.DelayBetween.Std(rotation.DefaultDelay)
	}
	if yes {
		req.ApprovedBy = currentActor()
	}

	result, err := orch.Run(ctx, req)
	if err != nil {
		return err
	}

	printRunResult(result, dryRun)
	if result.Failed() {
		return fmt.Errorf("rotation failed for one or more types")
	}
	return nil
}

// printRunResult renders the per-type outcome table.
func printRunResult(result *rotation.RunResult, dryRun bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TYPE\tOUTCOME\tDETAIL\n")
	fmt.Fprintf(w, "----\t-------\t------\n")

	for _, tr := range result.Results {
		detail := tr.Reason
		switch tr.Outcome {
		case rotation.OutcomeRotated:
			detail = fmt.Sprintf("rotated %s in %s", strings.Join(tr.Secrets, ", "), tr.Duration.Round(time.Millisecond))
			if tr.ApprovedBy != "" {
				detail += " (approved by " + tr.ApprovedBy + ")"
			}
		case rotation.OutcomeFailed:
			if tr.Err != nil {
				detail = tr.Err.Error()
			}
			if tr.RolledBack {
				detail += " [rolled back]"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", tr.Type, outcomeSymbol(tr.Outcome), detail)
	}
	_ = w.Flush()

	if dryRun {
		fmt.Println("\nDry run: nothing was changed.")
		return
	}
	fmt.Printf("\n%d rotated, %d total, took %s\n",
		result.Rotated(), len(result.Results), result.Duration.Round(time.Millisecond))
}

func outcomeSymbol(o rotation.Outcome) string {
	switch o {
	case rotation.OutcomeRotated:
		return "✓ rotated"
	case rotation.OutcomeFailed:
		return "✗ failed"
	case rotation.OutcomeSkipped:
		return "○ skipped"
	case rotation.OutcomeWouldRotate:
		return "→ would rotate"
	}
	return string(o)
}
