package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/backup"
	"github.com/gameforge/gfops/internal/config"
	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/pkg/exec"
)

func NewBackupCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up Postgres and Redis, with optional S3 upload",
	}

	cmd.AddCommand(
		newBackupRunCommand(cfg),
		newBackupListCommand(cfg),
		newBackupVerifyCommand(cfg),
		newBackupPruneCommand(cfg),
	)
	return cmd
}

func newBackupRunCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Create a timestamped backup set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cfg)
		},
	}
}

func runBackup(cfg *config.Config) error {
	def, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	store, err := newVaultClient(cfg, def)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	uploader, err := backup.NewUploader(ctx, def.Backup.S3)
	if err != nil {
		return err
	}
	if uploader == nil {
		cfg.Logger.Warn("No backup.s3.bucket configured; the set stays local only")
	}

	notifier, err := newNotifier(ctx, cfg, def)
	if err != nil {
		return err
	}
	defer notifier.Stop()

	runner := backup.NewRunner(def.Backup, def.Environment, store, exec.DefaultExecutor, uploader, cfg.Logger)
	runner.SetNotifier(notifier)
	runner.SetAuditor(newAuditor(cfg, def))

	manifest, err := runner.Run(ctx)
	if manifest != nil {
		printManifest(manifest)
	}
	return err
}

func printManifest(manifest *backup.Manifest) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "COMPONENT\tRESULT\tSIZE\tSHA-256\n")
	fmt.Fprintf(w, "---------\t------\t----\t-------\n")
	for _, component := range manifest.Components {
		result := "✓ ok"
		if !component.Success {
			result = "✗ " + component.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			component.Name, result, formatBytes(component.SizeBytes), shortHash(component.SHA256))
	}
	_ = w.Flush()
	fmt.Printf("\nSet %s, took %s\n", manifest.Timestamp, time.Duration(manifest.Duration * float64(time.Second)).Round(time.Millisecond))
}

func newBackupListCommand(cfg *config.Config) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backup sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupList(cmd.Context(), cfg, remote)
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Also list sets stored in S3")

	return cmd
}

func runBackupList(ctx context.Context, cfg *config.Config, remote bool) error {
	def, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	sets, err := backup.ListLocal(def.Backup.OutputDir)
	if err != nil {
		return err
	}

	if len(sets) == 0 {
		fmt.Println("No local backup sets.")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "SET\tCREATED\tRESULT\tCOMPONENTS\tSIZE\n")
		fmt.Fprintf(w, "---\t-------\t------\t----------\t----\n")
		for _, set := range sets {
			result := "✓ complete"
			if !set.Success {
				result = "✗ partial"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				set.Timestamp, set.CreatedAt.UTC().Format(time.RFC3339), result,
				set.Components, formatBytes(set.SizeBytes))
		}
		_ = w.Flush()
	}

	if !remote {
		return nil
	}

	uploader, err := backup.NewUploader(ctx, def.Backup.S3)
	if err != nil {
		return err
	}
	if uploader == nil {
		return gferrors.UserError{
			Message:    "No S3 bucket configured",
			Suggestion: "Set backup.s3.bucket in gfops.yaml to list remote sets",
		}
	}

	remoteSets, err := uploader.ListSets(ctx, def.Environment)
	if err != nil {
		return err
	}
	fmt.Printf("\nRemote sets in s3://%s:\n", uploader.Bucket())
	if len(remoteSets) == 0 {
		fmt.Println("  none")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SET\tFILES\tSIZE\n")
	for _, set := range remoteSets {
		fmt.Fprintf(w, "%s\t%d\t%s\n", set.Timestamp, set.Files, formatBytes(set.SizeBytes))
	}
	return w.Flush()
}

func newBackupVerifyCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <set>",
		Short: "Recompute checksums for a backup set against its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadConfig(cfg)
			if err != nil {
				return err
			}

			problems, err := backup.VerifySet(def.Backup.OutputDir, args[0])
			if err != nil {
				return err
			}
			if len(problems) == 0 {
				cfg.Logger.Success("Backup set %s verified clean", args[0])
				return nil
			}
			for _, problem := range problems {
				cfg.Logger.Error("%s: %s", problem.Component, problem.Message)
			}
			return fmt.Errorf("backup set %s has %d problem(s)", args[0], len(problems))
		},
	}
}

func newBackupPruneCommand(cfg *config.Config) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete backup sets older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupPrune(cmd.Context(), cfg, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be deleted")

	return cmd
}

func runBackupPrune(ctx context.Context, cfg *config.Config, dryRun bool) error {
	def, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	uploader, err := backup.NewUploader(ctx, def.Backup.S3)
	if err != nil {
		return err
	}

	runner := backup.NewRunner(def.Backup, def.Environment, nil, exec.DefaultExecutor, uploader, cfg.Logger)
	runner.SetAuditor(newAuditor(cfg, def))

	result, err := runner.Prune(ctx, dryRun)
	if err != nil {
		return err
	}

	verb := "Deleted"
	if dryRun {
		verb = "Would delete"
	}
	cfg.Logger.Info("%s %d local set(s) and %d remote set(s)", verb, len(result.Local), len(result.Remote))
	for _, set := range result.Local {
		fmt.Printf("  local  %s\n", set)
	}
	for _, set := range result.Remote {
		fmt.Printf("  remote %s\n", set)
	}
	return nil
}

// formatBytes renders a byte count the way humans read sizes.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
