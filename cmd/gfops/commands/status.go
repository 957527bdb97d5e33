package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gameforge/gfops/internal/config"
	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/internal/rotation"
)

// typeStatus is the per-type view rendered by `gfops status`.
type typeStatus struct {
	Type         string `json:"type" yaml:"type"`
	Critical     bool   `json:"critical" yaml:"critical"`
	LastRotation string `json:"last_rotation,omitempty" yaml:"last_rotation,omitempty"`
	LastResult   string `json:"last_result,omitempty" yaml:"last_result,omitempty"`
	NextDue      string `json:"next_due,omitempty" yaml:"next_due,omitempty"`
	Due          bool   `json:"due" yaml:"due"`
	DaysUntilDue int    `json:"days_until_due" yaml:"days_until_due"`
}

func NewStatusCommand(cfg *config.Config) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-type rotation state",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "table", "json", "yaml":
			default:
				return gferrors.UserError{
					Message:    fmt.Sprintf("Unknown output format: %s", output),
					Suggestion: "Use --output table, json, or yaml",
				}
			}
			return runStatus(cfg, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json, yaml")

	return cmd
}

func runStatus(cfg *config.Config, output string) error {
	def, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	planner := rotation.NewPlanner(
		newStateStore(def),
		def.Environment,
		rotation.FrequenciesFromConfig(def.Rotation.Frequencies),
		rotation.CriticalFromConfig(def.Rotation.Critical),
	)
	plans, err := planner.Plan(time.Now())
	if err != nil {
		return err
	}

	statuses := make([]typeStatus, 0, len(plans))
	for _, plan := range plans {
		statuses = append(statuses, statusView(plan))
	}

	switch output {
	case "json":
		return printJSON(statuses)
	case "yaml":
		return printYAML(statuses)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TYPE\tCRITICAL\tLAST ROTATION\tRESULT\tNEXT DUE\tSTATUS\n")
	fmt.Fprintf(w, "----\t--------\t-------------\t------\t--------\t------\n")
	for _, s := range statuses {
		critical := ""
		if s.Critical {
			critical = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Type, critical,
			orDash(s.LastRotation), orDash(s.LastResult), orDash(s.NextDue),
			statusLabel(s))
	}
	return w.Flush()
}

func statusView(plan rotation.TypePlan) typeStatus {
	s := typeStatus{
		Type:         string(plan.Type),
		Critical:     plan.Critical,
		Due:          plan.Due,
		DaysUntilDue: plan.DaysUntilDue,
	}
	if plan.NeverRotated {
		return s
	}
	s.LastRotation = plan.LastRotation.UTC().Format(time.RFC3339)
	s.NextDue = plan.NextDue.UTC().Format(time.RFC3339)
	if plan.LastSuccess {
		s.LastResult = "success"
	} else {
		s.LastResult = "failure"
	}
	return s
}

func statusLabel(s typeStatus) string {
	switch {
	case s.LastRotation == "":
		return "never rotated"
	case s.Due && s.DaysUntilDue < 0:
		return fmt.Sprintf("overdue by %dd", -s.DaysUntilDue)
	case s.Due:
		return "due"
	default:
		return fmt.Sprintf("ok (due in %dd)", s.DaysUntilDue)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
