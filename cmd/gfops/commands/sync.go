package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/cicd"
	"github.com/gameforge/gfops/internal/config"
	gferrors "github.com/gameforge/gfops/internal/errors"
)

func NewSyncCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "sync [target...]",
		Short:     "Push rotated secrets to CI/CD secret stores",
		ValidArgs: []string{"github", "gitlab", "aws"},
		Long: `Read each configured sync mapping's value from Vault and push it to
the mapping's CI/CD targets: GitHub Actions secrets, GitLab CI
variables, and an AWS Secrets Manager mirror. Naming targets restricts
the run to those stores.

Tokens come from GITHUB_TOKEN and GITLAB_TOKEN; AWS uses the default
credential chain.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				switch arg {
				case "github", "gitlab", "aws":
				default:
					return gferrors.UserError{
						Message:    fmt.Sprintf("Unknown sync target: %s", arg),
						Suggestion: "Valid targets: github, gitlab, aws",
					}
				}
			}
			return runSync(cfg, args)
		},
	}
	return cmd
}

func runSync(cfg *config.Config, only []string) error {
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

	syncer := cicd.NewSyncer(def.Sync, def.Environment, store, cfg.Logger)
	syncer.SetAuditor(newAuditor(cfg, def))
	if err := syncer.RegisterFromConfig(ctx); err != nil {
		return err
	}

	results, syncErr := syncer.Sync(ctx, only)
	printSyncResults(results)
	return syncErr
}

func printSyncResults(results []cicd.MappingResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SECRET\tTARGET\tRESULT\n")
	fmt.Fprintf(w, "------\t------\t------\n")
	for _, mapping := range results {
		for _, push := range mapping.Pushes {
			result := "✓ pushed"
			if push.Err != nil {
				result = "✗ " + push.Err.Error()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", mapping.TargetName, push.Target, result)
		}
	}
	_ = w.Flush()
}
