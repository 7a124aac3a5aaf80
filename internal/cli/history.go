package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past runs, or show one run in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd, flags, runtimeOptions{withStore: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.store == nil {
				return fmt.Errorf("run history is disabled (store.enabled=false)")
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			defer w.Flush()

			if len(args) == 1 {
				rec, err := rt.store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Run:\t%s\n", rec.RunID)
				fmt.Fprintf(w, "Plan:\t%s (%s)\n", rec.PlanID, rec.Description)
				fmt.Fprintf(w, "Status:\t%s (success=%t)\n", rec.Status, rec.Success)
				if rec.Reason != "" {
					fmt.Fprintf(w, "Reason:\t%s\n", rec.Reason)
				}
				fmt.Fprintf(w, "Started:\t%s\n", rec.StartedAt.Format(time.RFC3339))
				fmt.Fprintf(w, "Duration:\t%s\n\n", rec.Duration().Round(time.Millisecond))

				fmt.Fprintln(w, "STEP\tSTATUS\tATTEMPTS\tDETAIL")
				for _, step := range rec.Steps {
					detail := step.Error
					if detail == "" && len(step.Output) > 0 {
						detail = string(step.Output)
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", step.StepID, step.Status, step.Attempts, detail)
				}
				return nil
			}

			records, err := rt.store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(w, "No runs recorded")
				return nil
			}

			fmt.Fprintln(w, "RUN\tSTATUS\tSUCCESS\tROUNDS\tSTARTED\tDESCRIPTION")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\t%s\n",
					rec.RunID, rec.Status, rec.Success, rec.Rounds,
					rec.StartedAt.Format(time.RFC3339), rec.Description)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list (0 for all)")
	return cmd
}
