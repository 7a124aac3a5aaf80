package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/stepflow/internal/tracing"
	"github.com/harun/stepflow/pkg/planner"
	"github.com/harun/stepflow/pkg/shellexec"
	"github.com/harun/stepflow/pkg/store"
	"github.com/harun/stepflow/pkg/trigger"
	"github.com/spf13/cobra"
)

type runFlags struct {
	output      string
	quiet       bool
	watch       bool
	dir         string
	streamAddr  string
	metricsAddr string
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	rf := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <plan-file>",
		Short: "Execute a plan",
		Long: `Execute a plan document (JSON or YAML). Each step runs the shell command
in its "command" input; outputs of dependencies are exported as
STEPFLOW_DEP_<ID> environment variables.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, flags, rf, args[0])
		},
	}

	cmd.Flags().StringVarP(&rf.output, "output", "o", "text", "result format (text, json)")
	cmd.Flags().BoolVarP(&rf.quiet, "quiet", "q", false, "do not print progress events")
	cmd.Flags().BoolVarP(&rf.watch, "watch", "w", false, "re-run the plan whenever the file changes")
	cmd.Flags().StringVar(&rf.dir, "dir", "", "working directory for step commands")
	cmd.Flags().StringVar(&rf.streamAddr, "stream-addr", "", "serve the event stream on this address")
	cmd.Flags().StringVar(&rf.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runRun(cmd *cobra.Command, flags *globalFlags, rf *runFlags, path string) error {
	if rf.output != "text" && rf.output != "json" {
		return fmt.Errorf("invalid output format: %s (must be: text, json)", rf.output)
	}

	plan, err := planner.LoadPlanFile(path)
	if err != nil {
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

	if !rf.watch {
		return x.execute(ctx, plan)
	}
	return x.watch(ctx, path, plan)
}

// planRunner executes plans for run and schedule.
type planRunner struct {
	rt     *runtime
	rf     *runFlags
	out    io.Writer
	errOut io.Writer
}

func (x *planRunner) execute(ctx context.Context, plan *planner.Plan) error {
	ctx = tracing.WithPlanID(ctx, plan.ID)

	var sinks planner.MultiSink
	if !x.rf.quiet {
		progressOut := x.out
		if x.rf.output == "json" {
			progressOut = x.errOut
		}
		sinks = append(sinks, consoleSink{out: progressOut})
	}
	if x.rt.audit != nil {
		sinks = append(sinks, auditSink{ctx: ctx, audit: x.rt.audit})
	}
	if x.rt.stream != nil {
		sinks = append(sinks, x.rt.stream.Broadcaster())
	}

	capability := shellexec.New(x.rf.dir, x.rt.log.Zerolog())
	exec := planner.NewExecutor[string](capability, x.rt.executorOptions()...)

	result, runErr := exec.Run(ctx, plan, sinks)
	if result == nil {
		return runErr
	}

	if x.rt.store != nil {
		if err := x.save(plan, result); err != nil {
			x.rt.logger.Error().Err(err).Str("run_id", result.RunID).Msg("Failed to save run")
		}
	}

	if err := x.report(result); err != nil {
		return err
	}

	if runErr != nil {
		return fmt.Errorf("run %s aborted: %w", result.RunID, runErr)
	}
	if !result.Success {
		return fmt.Errorf("run %s completed with failures: %s", result.RunID, result.Reason)
	}
	return nil
}

func (x *planRunner) save(plan *planner.Plan, result *planner.Result[string]) error {
	rec, err := store.NewRunRecord(plan, result)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return x.rt.store.Save(ctx, rec)
}

func (x *planRunner) report(result *planner.Result[string]) error {
	if x.rf.output == "json" {
		enc := json.NewEncoder(x.out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(x.out, "\nRun %s: %s (success=%t, rounds=%d, %s)\n",
		result.RunID, result.Status, result.Success, result.Rounds, result.Duration().Round(time.Millisecond))
	if result.Reason != "" {
		fmt.Fprintf(x.out, "Reason: %s\n", result.Reason)
	}
	for _, id := range result.Aggregate.Succeeded {
		fmt.Fprintf(x.out, "  ✓ %s\n", id)
	}
	for _, id := range result.Aggregate.Failed {
		fmt.Fprintf(x.out, "  ✗ %s: %s\n", id, result.Steps[id].Error)
	}
	for _, id := range result.Aggregate.Skipped {
		fmt.Fprintf(x.out, "  - %s (skipped)\n", id)
	}
	return nil
}

// watch runs plan, then re-runs it every time the file at path changes
// until ctx ends. Run failures and invalid edits are logged, not returned.
func (x *planRunner) watch(ctx context.Context, path string, plan *planner.Plan) error {
	changes := make(chan struct{}, 1)
	fw, err := trigger.NewFileWatcher(path, trigger.DefaultDebounce, x.rt.log.Zerolog(), func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer fw.Stop()

	for {
		if err := x.execute(ctx, plan); err != nil {
			x.rt.logger.Warn().Err(err).Msg("Run finished with errors")
		}
		x.rt.logger.Info().Str("plan", path).Msg("Watching plan for changes")

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-changes:
			}

			next, err := planner.LoadPlanFile(path)
			if err != nil {
				x.rt.logger.Error().Err(err).Str("plan", path).Msg("Plan reload failed, waiting for next change")
				continue
			}
			plan = next
			break
		}
	}
}
