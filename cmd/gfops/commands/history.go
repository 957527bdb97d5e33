package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/rotation"
)

func NewHistoryCommand(cfg *config.Config) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <type>",
		Short: "Show rotation history for a secret type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := rotation.ParseType(args[0])
			if err != nil {
				return err
			}
			return runHistory(cfg, t, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show, newest first")

	return cmd
}

func runHistory(cfg *config.Config, t rotation.SecretType, limit int) error {
	def, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	entries, err := newStateStore(def).GetHistory(def.Environment, string(t), limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("No rotation history for %s in %s yet.\n", t, def.Environment)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "WHEN\tACTION\tRESULT\tTRIGGER\tSECRETS\tDURATION\n")
	fmt.Fprintf(w, "----\t------\t------\t-------\t-------\t--------\n")
	for _, entry := range entries {
		result := "✓ success"
		if !entry.Success {
			result = "✗ " + entry.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.Action,
			result,
			orDash(entry.TriggeredBy),
			orDash(strings.Join(entry.SecretsRotated, ", ")),
			(time.Duration(entry.DurationMS) * time.Millisecond).String(),
		)
	}
	return w.Flush()
}
