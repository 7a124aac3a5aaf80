package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/stepflow/pkg/planner"
	"github.com/harun/stepflow/pkg/trigger"
	"github.com/spf13/cobra"
)

func newScheduleCmd(flags *globalFlags) *cobra.Command {
	rf := &runFlags{output: "text"}
	var expr, tz string

	cmd := &cobra.Command{
		Use:   "schedule <plan-file>",
		Short: "Run a plan on a cron schedule",
		Long: `Run a plan at every activation of a cron expression until interrupted.
The plan file is re-read before each run so edits take effect without a
restart. Accepts five-field expressions and descriptors such as @hourly or
"@every 15m".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			sched, err := trigger.ParseSchedule(expr, tz)
			if err != nil {
				return err
			}
			// Fail fast on a broken plan.
			if _, err := planner.LoadPlanFile(path); err != nil {
				return err
			}

			rt, err := loadRuntime(cmd, flags, runtimeOptions{withStore: true, withServers: true, streamAddr: rf.streamAddr, metricsAddr: rf.metricsAddr})
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			x := &planRunner{rt: rt, rf: rf, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
			rt.logger.Info().
				Str("cron", expr).
				Time("next", sched.Next(time.Now())).
				Msg("Schedule started")

			err = sched.Run(ctx, func(ctx context.Context, fired time.Time) {
				plan, err := planner.LoadPlanFile(path)
				if err != nil {
					rt.logger.Error().Err(err).Str("plan", path).Msg("Plan reload failed, skipping activation")
					return
				}
				if err := x.execute(ctx, plan); err != nil {
					rt.logger.Warn().Err(err).Time("fired", fired).Msg("Scheduled run finished with errors")
				}
				rt.logger.Info().Time("next", sched.Next(time.Now())).Msg("Waiting for next activation")
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&expr, "cron", "", "cron expression (required)")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA time zone for the cron expression (default local)")
	cmd.Flags().BoolVarP(&rf.quiet, "quiet", "q", false, "do not print progress events")
	cmd.Flags().StringVar(&rf.dir, "dir", "", "working directory for step commands")
	cmd.Flags().StringVar(&rf.streamAddr, "stream-addr", "", "serve the event stream on this address")
	cmd.Flags().StringVar(&rf.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	_ = cmd.MarkFlagRequired("cron")

	return cmd
}
