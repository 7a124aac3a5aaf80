package cli

import (
	"fmt"
	"strings"

	"github.com/harun/stepflow/pkg/planner"
	"github.com/spf13/cobra"
)

func newValidateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Validate a plan and show its execution levels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := planner.LoadPlanFile(args[0])
			if err != nil {
				return err
			}

			levels, err := planner.ExecutionLevels(plan)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan %s is valid: %s\n", plan.ID, plan.Description)
			fmt.Fprintf(out, "%d steps in %d levels\n", len(plan.Steps), len(levels))
			for i, level := range levels {
				fmt.Fprintf(out, "  level %d: %s\n", i+1, strings.Join(level, ", "))
			}
			return nil
		},
	}
}
