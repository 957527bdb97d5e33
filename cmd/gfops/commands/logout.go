package commands

import (
	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/vault"
)

func NewLogoutCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored Vault token from the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadConfig(cfg)
			if err != nil {
				return err
			}
			if err := vault.DeleteToken(def.Vault.Address); err != nil {
				return err
			}
			cfg.Logger.Success("Token removed for %s", def.Vault.Address)
			return nil
		},
	}
}
