package commands

import (
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/config"
)

// doctorTools are the external binaries the CLI shells out to, paired
// with the subsystem that needs them.
var doctorTools = []struct {
	name   string
	usedBy string
}{
	{"docker", "rotation, alertd remediation, backups"},
	{"pg_dump", "backup run"},
	{"trivy", "scan image"},
	{"syft", "scan sbom"},
	{"git-secrets", "scan secrets"},
}

type doctorCheck struct {
	Name    string
	Status  string // ok, warn, fail
	Message string
}

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, tools, and Vault connectivity",
		Long: `Verify the local setup: the configuration file parses, the external
tools the subcommands shell out to are installed, Vault is reachable
and unsealed, a token is available, and the state directory has safe
permissions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cfg)
		},
	}
}

func runDoctor(cfg *config.Config) error {
	checks := make([]doctorCheck, 0, len(doctorTools)+4)

	def, err := loadConfig(cfg)
	if err != nil {
		checks = append(checks, doctorCheck{"config", "fail", err.Error()})
		printDoctorChecks(checks)
		return fmt.Errorf("configuration is not usable")
	}
	checks = append(checks, doctorCheck{
		Name:    "config",
		Status:  "ok",
		Message: fmt.Sprintf("%s (environment %s)", cfg.Path, def.Environment),
	})

	for _, tool := range doctorTools {
		if _, err := osexec.LookPath(tool.name); err != nil {
			checks = append(checks, doctorCheck{
				Name:    tool.name,
				Status:  "warn",
				Message: fmt.Sprintf("not found; needed for %s", tool.usedBy),
			})
			continue
		}
		checks = append(checks, doctorCheck{tool.name, "ok", "installed"})
	}

	checks = append(checks, checkVault(cfg, def))
	checks = append(checks, checkStateDir(def))

	printDoctorChecks(checks)

	failed := 0
	for _, check := range checks {
		if check.Status == "fail" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	cfg.Logger.Success("All checks passed")
	return nil
}

func checkVault(cfg *config.Config, def *config.Definition) doctorCheck {
	client, err := newVaultClient(cfg, def)
	if err != nil {
		return doctorCheck{"vault", "fail", err.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	initialized, sealed, err := client.Health(ctx)
	switch {
	case err != nil:
		return doctorCheck{"vault", "fail", fmt.Sprintf("%s unreachable: %v", def.Vault.Address, err)}
	case !initialized:
		return doctorCheck{"vault", "fail", "Vault is not initialized"}
	case sealed:
		return doctorCheck{"vault", "fail", "Vault is sealed; run 'vault operator unseal'"}
	}
	return doctorCheck{
		Name:    "vault",
		Status:  "ok",
		Message: fmt.Sprintf("%s, mount %s, token from %s", def.Vault.Address, client.Mount(), client.TokenSource()),
	}
}

// checkStateDir flags a state directory readable by other users. The
// directory holds rotation records and approval grants.
func checkStateDir(def *config.Definition) doctorCheck {
	dir := stateDir(def)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return doctorCheck{"state dir", "ok", fmt.Sprintf("%s (will be created on first use)", dir)}
	}
	if err != nil {
		return doctorCheck{"state dir", "fail", err.Error()}
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return doctorCheck{
			Name:    "state dir",
			Status:  "warn",
			Message: fmt.Sprintf("%s is mode %04o; run 'chmod 700 %s'", dir, perm, dir),
		}
	}
	return doctorCheck{"state dir", "ok", dir}
}

func printDoctorChecks(checks []doctorCheck) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "CHECK\tSTATUS\tDETAIL\n")
	fmt.Fprintf(w, "-----\t------\t------\n")
	for _, check := range checks {
		status := check.Status
		switch check.Status {
		case "ok":
			status = "✓ ok"
		case "warn":
			status = "! warn"
		case "fail":
			status = "✗ fail"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", check.Name, status, check.Message)
	}
	_ = w.Flush()
}
