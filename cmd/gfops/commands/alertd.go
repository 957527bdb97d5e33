package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/alertd"
	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/metrics"
	"github.com/gameforge/gfops/pkg/exec"
)

func NewAlertdCommand(cfg *config.Config) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "alertd",
		Short: "Run the Alertmanager webhook receiver",
		Long: `Run a small HTTP daemon that receives Alertmanager webhook posts,
routes them to Slack and PagerDuty by severity, optionally restarts
services named by firing alerts, and serves Prometheus metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlertd(cfg, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Bind address (overrides alertd.listen)")

	return cmd
}

func runAlertd(cfg *config.Config, listen string) error {
	def, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	alertdCfg := def.Alertd
	if listen != "" {
		alertdCfg.Listen = listen
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier, err := newNotifier(ctx, cfg, def)
	if err != nil {
		return err
	}
	defer notifier.Stop()

	auditor := newAuditor(cfg, def)

	remediator := alertd.NewRemediator(alertdCfg.Remediation, def.Environment, exec.DefaultExecutor, cfg.Logger)
	remediator.SetAuditor(auditor)
	remediator.SetNotifier(notifier)

	metrics.Init()

	server := alertd.NewServer(alertdCfg, def.Environment, notifier, auditor, remediator, cfg.Logger)
	return server.Run(ctx)
}
