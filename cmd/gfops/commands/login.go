package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/config"
	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/internal/vault"
)

func NewLoginCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store a Vault token in the OS keyring",
		Long: `Read a Vault token and store it in the OS keyring, keyed by the
configured Vault address. The token is read from stdin or taken from
VAULT_TOKEN; it is never accepted as a command-line argument, which
would leak it into shell history and the process table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cfg)
		},
	}
}

func runLogin(cfg *config.Config) error {
	def, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		if !cfg.NonInteractive {
			fmt.Fprintf(os.Stderr, "Vault token for %s: ", def.Vault.Address)
		}
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			token = strings.TrimSpace(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return err
		}
	}
	if token == "" {
		return gferrors.UserError{
			Message:    "No token provided",
			Suggestion: "Pipe the token on stdin or export VAULT_TOKEN before running 'gfops login'",
		}
	}

	// Probe before storing so a typo does not silently replace a
	// working token.
	probe, err := vault.NewClient(vault.Config{
		Address:   def.Vault.Address,
		Token:     token,
		Namespace: def.Vault.Namespace,
		Mount:     def.Vault.Mount,
	}, cfg.Logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := probe.Health(ctx); err != nil {
		cfg.Logger.Warn("Could not verify the token against %s: %v", def.Vault.Address, err)
	}

	if err := vault.StoreToken(def.Vault.Address, token); err != nil {
		return err
	}
	cfg.Logger.Success("Token stored in the OS keyring for %s", def.Vault.Address)
	return nil
}
