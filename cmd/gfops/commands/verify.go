package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/monitor"
	"github.com/gameforge/gfops/internal/vault"
	"github.com/gameforge/gfops/pkg/exec"
)

func NewVerifyCommand(cfg *config.Config) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify deployment health once",
		Long: `Run every configured health check once: HTTP endpoints, docker
compose services, database, Redis, and Prometheus targets. Exits
non-zero when any critical check fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), cfg, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Machine-readable output")

	return cmd
}

func runVerify(ctx context.Context, cfg *config.Config, asJSON bool) error {
	def, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	runner := buildMonitorRunner(ctx, cfg, def)
	results, healthy := runner.Verify(ctx)

	if asJSON {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		printCheckResults(results)
	}

	if !healthy {
		return fmt.Errorf("deployment verification failed")
	}
	return nil
}

// buildMonitorRunner assembles the check set: the config-declared checks
// plus database and Redis round-trips when those are configured. The
// Redis password comes from Vault; when Vault is unreachable the check
// still runs unauthenticated rather than failing verification outright.
func buildMonitorRunner(ctx context.Context, cfg *config.Config, def *config.Definition) *monitor.Runner {
	runner := monitor.FromConfig(def, exec.DefaultExecutor, cfg.Logger)

	if dsn := def.Rotation.Database.DSN; dsn != "" {
		driver := def.Rotation.Database.Driver
		if driver == "" {
			driver = "postgres"
		}
		runner.Add(monitor.NewDatabaseCheck("database", driver, dsn, true))
	}

	if addr := def.Rotation.Internal.RedisAddr; addr != "" {
		password := ""
		if store, err := newVaultClient(cfg, def); err == nil {
			value, err := store.ReadKVField(ctx, def.Environment+"/internal/redis#password")
			if err != nil && !vault.IsNotFound(err) {
				cfg.Logger.Warn("Could not read the Redis password from Vault; pinging without auth")
			} else {
				password = value
			}
		} else {
			cfg.Logger.Debug("Vault unavailable for Redis credentials: %v", err)
		}
		runner.Add(monitor.NewRedisCheck(addr, password, true))
	}

	return runner
}

// printCheckResults renders the verification table.
func printCheckResults(results []monitor.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "CHECK\tSTATUS\tLATENCY\tDETAIL\n")
	fmt.Fprintf(w, "-----\t------\t-------\t------\n")
	for _, result := range results {
		status := "✓ healthy"
		if !result.Healthy {
			status = "✗ unhealthy"
			if !result.Critical {
				status = "! degraded"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			result.Name, status, result.Latency.Round(time.Millisecond), result.Message)
	}
	_ = w.Flush()
}
