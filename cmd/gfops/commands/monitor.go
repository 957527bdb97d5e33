package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/config"
)

func NewMonitorCommand(cfg *config.Config) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll deployment health until healthy or attempts run out",
		Long: `Run the health checks repeatedly (every monitor.interval, default
30s) until every critical check passes or monitor.max_attempts is
exhausted. Exhaustion exits non-zero and pages the on-call. --wait=false
degrades to a single pass, same as 'gfops verify'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cfg, wait)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", true, "Keep polling until healthy or attempts run out")

	return cmd
}

func runMonitor(cfg *config.Config, wait bool) error {
	def, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !wait {
		return runVerify(ctx, cfg, false)
	}

	runner := buildMonitorRunner(ctx, cfg, def)

	notifier, err := newNotifier(ctx, cfg, def)
	if err != nil {
		return err
	}
	defer notifier.Stop()

	runner.SetNotifier(notifier)
	runner.SetAuditor(newAuditor(cfg, def))

	started := time.Now()
	results, err := runner.Monitor(ctx)
	printCheckResults(results)
	if err != nil {
		return err
	}

	cfg.Logger.Success("Deployment healthy after %s", time.Since(started).Round(time.Second))
	return nil
}
