package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/config"
	gferrors "github.com/gameforge/gfops/internal/errors"
)

func NewAuditCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect, export, and prune the audit trail",
	}

	cmd.AddCommand(
		newAuditVerifyCommand(cfg),
		newAuditExportCommand(cfg),
		newAuditPruneCommand(cfg),
	)
	return cmd
}

func newAuditVerifyCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Validate every stored audit event against the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadConfig(cfg)
			if err != nil {
				return err
			}

			report, err := audit.VerifyDir(auditDir(def))
			if err != nil {
				return err
			}

			printAuditReport(report)

			if !report.Clean() {
				for _, line := range report.Malformed {
					cfg.Logger.Error("%s:%d: %s", line.File, line.Line, line.Err)
				}
				return fmt.Errorf("audit trail has %d malformed event(s)", len(report.Malformed))
			}
			cfg.Logger.Success("Audit trail verified: %d events across %d files", report.ValidEvents, report.FilesScanned)
			return nil
		},
	}
}

func printAuditReport(report *audit.VerifyReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TYPE\tEVENTS\n")
	fmt.Fprintf(w, "----\t------\n")
	types := make([]string, 0, len(report.ByType))
	for eventType := range report.ByType {
		types = append(types, eventType)
	}
	sort.Strings(types)
	for _, eventType := range types {
		fmt.Fprintf(w, "%s\t%d\n", eventType, report.ByType[eventType])
	}
	_ = w.Flush()
}

func newAuditExportCommand(cfg *config.Config) *cobra.Command {
	var (
		since  string
		format string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write audit events to stdout as JSON lines or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "csv" {
				return gferrors.UserError{
					Message:    fmt.Sprintf("Unknown export format: %s", format),
					Suggestion: "Use --format json or --format csv",
				}
			}

			var from time.Time
			if since != "" {
				parsed, err := time.Parse("2006-01-02", since)
				if err != nil {
					return gferrors.UserError{
						Message:    fmt.Sprintf("Cannot parse --since value %q", since),
						Suggestion: "Use YYYY-MM-DD, e.g. --since 2026-01-01",
					}
				}
				from = parsed
			}

			def, err := loadConfig(cfg)
			if err != nil {
				return err
			}

			count, err := audit.Export(os.Stdout, auditDir(def), from, format)
			if err != nil {
				return err
			}
			cfg.Logger.Info("Exported %d audit event(s)", count)
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Only events on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&format, "format", "json", "Export format: json or csv")

	return cmd
}

func newAuditPruneCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete audit files past the retention period",
		Long: `Delete day files older than audit.retention_days (default seven
years). Files containing critical events are kept regardless of age.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadConfig(cfg)
			if err != nil {
				return err
			}

			result, err := audit.Prune(auditDir(def), time.Now(), def.Audit.RetentionDays)
			if err != nil {
				return err
			}

			cfg.Logger.Info("Scanned %d file(s), removed %d", result.Scanned, len(result.Removed))
			for _, file := range result.Removed {
				fmt.Printf("  removed %s\n", file)
			}
			for _, file := range result.KeptCritical {
				cfg.Logger.Warn("Kept %s past retention: contains critical events", file)
			}
			return nil
		},
	}
}
