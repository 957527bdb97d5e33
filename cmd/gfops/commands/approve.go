package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/rotation"
)

func NewApproveCommand(cfg *config.Config) *cobra.Command {
	var (
		by  string
		ttl time.Duration
	)

	cmd := &cobra.Command{
		Use:   "approve <type>",
		Short: "Grant a single-use approval for a critical secret type",
		Long: `Record an approval grant allowing the next rotation of a critical
secret type (root and database by default). Grants are single-use and
expire after --ttl (default 4h).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := rotation.ParseType(args[0])
			if err != nil {
				return err
			}
			return runApprove(cmd.Context(), cfg, t, by, ttl)
		},
	}

	cmd.Flags().StringVar(&by, "by", currentActor(), "Who is approving, for the audit trail")
	cmd.Flags().DurationVar(&ttl, "ttl", rotation.DefaultApprovalTTL, "How long the grant stays valid")

	return cmd
}

func runApprove(ctx context.Context, cfg *config.Config, t rotation.SecretType, by string, ttl time.Duration) error {
	def, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	critical := rotation.CriticalFromConfig(def.Rotation.Critical)
	grant, err := rotation.Approve(newStateStore(def), critical, t, def.Environment, by, ttl, time.Now())
	if err != nil {
		return err
	}

	event := audit.NewEvent(audit.TypeApproval, audit.SeverityHigh, def.Environment,
		"grant", string(t), "success")
	event.Details = map[string]string{
		"secret_type": string(t),
		"granted_by":  grant.GrantedBy,
		"expires_at":  grant.ExpiresAt.UTC().Format(time.RFC3339),
	}
	newAuditor(cfg, def).Record(ctx, event)

	cfg.Logger.Success("Approval recorded: %s rotation in %s may proceed until %s (granted by %s)",
		t, def.Environment, grant.ExpiresAt.Local().Format("15:04 MST"), grant.GrantedBy)
	return nil
}
