package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/rotation"
)

func NewScheduleCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the staggered rotation scheduler",
		Long: `Run a long-lived scheduler that checks each secret type on its own
cron entry. Schedules are staggered per type so no two types rotate in
the same hour; set rotation.stagger: false to pack everything at 02:00.

Each firing runs the same orchestrator as 'gfops rotate' for that one
type, skipping it when not due. Stops cleanly on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cfg)
		},
	}
	return cmd
}

func runSchedule(cfg *config.Config) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier, err := newNotifier(ctx, cfg, def)
	if err != nil {
		return err
	}
	defer notifier.Stop()

	orch.SetNotifier(notifier)
	orch.SetAuditRecorder(newAuditor(cfg, def))

	scheduler := rotation.NewScheduler(
		orch,
		files,
		def.Environment,
		rotation.FrequenciesFromConfig(def.Rotation.Frequencies),
		rotation.CriticalFromConfig(def.Rotation.Critical),
		def.Rotation.StaggerEnabled(),
		cfg.Logger,
	)
	return scheduler.Run(ctx)
}
