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

	"github.com/gameforge/gfops/internal/config"
	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/internal/scan"
	"github.com/gameforge/gfops/pkg/exec"
)

func NewScanCommand(cfg *config.Config) *cobra.Command {
	var repoDir string

	cmd := &cobra.Command{
		Use:       "scan [all|secrets|image|sbom]",
		Short:     "Run security scans: git-secrets, trivy, syft",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"all", "secrets", "image", "sbom"},
		Long: `Run the security scanners. 'secrets' scans the repository for
committed credentials, 'image' scans the container image for
vulnerabilities at or above scan.severity_threshold, 'sbom' writes a
CycloneDX software bill of materials. Default: all three.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			which := "all"
			if len(args) == 1 {
				which = args[0]
			}
			return runScan(cfg, which, repoDir)
		},
	}

	cmd.Flags().StringVar(&repoDir, "repo", ".", "Repository directory for the secrets scan")

	return cmd
}

func runScan(cfg *config.Config, which, repoDir string) error {
	def, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := scan.NewScanner(def.Scan, def.Environment, exec.DefaultExecutor, cfg.Logger)

	if which == "all" {
		notifier, err := newNotifier(ctx, cfg, def)
		if err != nil {
			return err
		}
		defer notifier.Stop()
		scanner.SetNotifier(notifier)
		scanner.SetAuditor(newAuditor(cfg, def))

		summary, runErr := scanner.RunAll(ctx, repoDir)
		if summary != nil {
			printScanResults(summary.Results)
		}
		return runErr
	}

	var result scan.ToolResult
	switch which {
	case "secrets":
		result = scanner.Secrets(ctx, repoDir)
	case "image", "sbom":
		if def.Scan.Image == "" {
			return gferrors.UserError{
				Message:    "No container image configured",
				Suggestion: "Set scan.image in gfops.yaml, e.g. gameforge/app:latest",
			}
		}
		if which == "image" {
			result = scanner.Image(ctx)
		} else {
			result = scanner.SBOM(ctx)
		}
	}

	printScanResults([]scan.ToolResult{result})
	if result.Failed() {
		return fmt.Errorf("%s scan failed", result.Tool)
	}
	return nil
}

func printScanResults(results []scan.ToolResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TOOL\tSTATUS\tFINDINGS\tREPORT\tDURATION\n")
	fmt.Fprintf(w, "----\t------\t--------\t------\t--------\n")
	for _, result := range results {
		status := string(result.Status)
		switch result.Status {
		case scan.StatusPassed:
			status = "✓ passed"
		case scan.StatusFailed:
			status = "✗ failed"
		case scan.StatusError:
			status = "! error"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			result.Tool, status, formatCounts(result.Counts),
			orDash(result.ReportFile), time.Duration(result.Duration * float64(time.Second)).Round(time.Millisecond))
	}
	_ = w.Flush()
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}
	out := ""
	for _, severity := range []string{"CRITICAL", "HIGH", "MEDIUM", "LOW", "findings", "components"} {
		if n, ok := counts[severity]; ok {
			if out != "" {
				out += " "
			}
			out += fmt.Sprintf("%s:%d", severity, n)
		}
	}
	if out == "" {
		return fmt.Sprintf("%d", len(counts))
	}
	return out
}
