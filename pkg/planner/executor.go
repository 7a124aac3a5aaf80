package planner

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/harun/stepflow/internal/observability"
	"github.com/harun/stepflow/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const tracerName = "stepflow/planner"

// Option configures an Executor at construction time.
type Option func(*options)

type options struct {
	retry          RetryPolicy
	maxConcurrency int
	roundLimit     int
	stepTimeout    time.Duration
	runTimeout     time.Duration
	logger         zerolog.Logger
	runID          string
}

// WithRetryPolicy sets the per-step retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(o *options) {
		o.retry = policy
	}
}

// WithMaxConcurrency bounds how many steps of one round run at once.
// A value <= 0 leaves rounds unbounded.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		o.maxConcurrency = n
	}
}

// WithRoundLimit caps the number of scheduling rounds. A value <= 0 uses
// twice the number of plan steps.
func WithRoundLimit(n int) Option {
	return func(o *options) {
		o.roundLimit = n
	}
}

// WithStepTimeout gives every step a deadline. A breach fails the step and
// aborts the run once the current round has finished.
func WithStepTimeout(d time.Duration) Option {
	return func(o *options) {
		o.stepTimeout = d
	}
}

// WithRunTimeout bounds the whole run.
func WithRunTimeout(d time.Duration) Option {
	return func(o *options) {
		o.runTimeout = d
	}
}

// WithLogger sets the logger used for run diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) Option {
	return func(o *options) {
		o.runID = id
	}
}

// Executor drives a plan to completion in dependency order, running every
// ready step of a round concurrently.
type Executor[T any] struct {
	opts   options
	runner *StepRunner[T]
	logger zerolog.Logger

	// Replaceable in tests to simulate scheduling bugs.
	ready     func(plan *Plan, state *ExecutionState[T]) []string
	propagate func(plan *Plan, state *ExecutionState[T]) []Resolution
}

// NewExecutor creates an executor delegating step work to capability.
func NewExecutor[T any](capability Capability[T], opts ...Option) *Executor[T] {
	observability.EnsureRegistered()

	o := options{
		retry:  DefaultRetryPolicy(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With().Str("component", "executor").Logger()
	return &Executor[T]{
		opts:      o,
		runner:    NewStepRunner(capability, o.retry, o.stepTimeout, logger),
		logger:    logger,
		ready:     ReadySteps[T],
		propagate: PropagateFailures[T],
	}
}

// Run executes plan and always returns a non-nil Result. The error is
// non-nil only when the run aborted: a *ValidationError, *StallError or
// *CancelledError. Step failures are reported in the Result, not as errors.
// sink may be nil.
func (e *Executor[T]) Run(ctx context.Context, plan *Plan, sink Sink) (*Result[T], error) {
	if ctx == nil {
		ctx = context.Background()
	}

	runID := e.opts.runID
	if runID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate run ID: %w", err)
		}
		runID = id
	}

	em := &emitter{sink: sink, runID: runID}
	logger := e.logger.With().Str("run_id", runID).Logger()

	result := &Result[T]{
		RunID:     runID,
		Status:    RunStatusNotStarted,
		Outputs:   map[string]T{},
		Steps:     map[string]StepState[T]{},
		StartedAt: time.Now(),
	}
	if plan != nil {
		result.PlanID = plan.ID
	}

	ctx = tracing.WithRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "planner.Run",
		attribute.String("run.id", runID),
		attribute.String("plan.id", result.PlanID),
	)
	defer span.End()

	if err := Validate(plan); err != nil {
		logger.Error().Err(err).Msg("Plan rejected")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.finishAborted(result, nil, nil, em, err, "validation failed")
	}
	span.SetAttributes(attribute.Int("plan.steps", len(plan.Steps)))

	if e.opts.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.runTimeout)
		defer cancel()
	}

	state := NewExecutionState[T](plan)
	result.Status = RunStatusRunning

	em.emit(Event{
		Kind:    EventPlan,
		Message: plan.Description,
		Data:    plan.Steps,
	})
	logger.Info().
		Str("plan_id", plan.ID).
		Int("steps", len(plan.Steps)).
		Msg("Starting plan execution")

	steps := make(map[string]Step, len(plan.Steps))
	for _, step := range plan.Steps {
		steps[step.ID] = step
	}

	roundLimit := e.opts.roundLimit
	if roundLimit <= 0 {
		roundLimit = 2 * len(plan.Steps)
	}

	for {
		if err := ctx.Err(); err != nil {
			cerr := newCancelledError(context.Cause(ctx))
			logger.Warn().Err(cerr).Int("round", result.Rounds).Msg("Run cancelled")
			span.RecordError(cerr)
			span.SetStatus(codes.Error, cerr.Error())
			return e.finishAborted(result, plan, state, em, cerr, cerr.Reason)
		}

		ready := e.ready(plan, state)
		if len(ready) == 0 && state.AllResolved(plan) {
			break
		}

		if result.Rounds >= roundLimit {
			serr := &StallError{Kind: StallRoundLimit, Round: result.Rounds, Unresolved: state.Unresolved(plan)}
			logger.Error().Err(serr).Msg("Round limit exceeded")
			span.RecordError(serr)
			span.SetStatus(codes.Error, serr.Error())
			return e.finishAborted(result, plan, state, em, serr, "stall/round-limit exceeded")
		}
		result.Rounds++
		round := result.Rounds

		if len(ready) == 0 {
			resolutions := e.propagate(plan, state)
			if len(resolutions) == 0 {
				serr := &StallError{Kind: StallDeadlock, Round: round, Unresolved: state.Unresolved(plan)}
				logger.Error().Err(serr).Msg("Deadlock detected")
				span.RecordError(serr)
				span.SetStatus(codes.Error, serr.Error())
				return e.finishAborted(result, plan, state, em, serr, "deadlock")
			}
			e.applyResolutions(logger, state, resolutions, round, em)
			continue
		}

		if timedOut := e.runRound(ctx, logger, steps, state, ready, round, em); len(timedOut) > 0 {
			cerr := newCancelledError(fmt.Errorf("%w: %v", ErrStepTimeout, timedOut))
			logger.Warn().Err(cerr).Strs("steps", timedOut).Msg("Step deadline breached, aborting run")
			span.RecordError(cerr)
			span.SetStatus(codes.Error, cerr.Error())
			return e.finishAborted(result, plan, state, em, cerr, cerr.Reason)
		}
	}

	result.Status = RunStatusCompleted
	required := RequiredFailures(plan, state)
	result.Success = len(required) == 0
	if !result.Success {
		result.Reason = fmt.Sprintf("required steps failed: %v", required)
		span.SetStatus(codes.Error, result.Reason)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	e.fillResult(result, plan, state)

	message := "Execution completed successfully"
	if !result.Success {
		message = "Execution completed with failures: " + result.Reason
	}
	em.emit(Event{
		Kind:    EventExecutionComplete,
		Message: message,
		Data:    result.Aggregate,
	})

	observability.RecordRun(string(result.Status), result.Success, result.Duration(), result.Rounds)
	logger.Info().
		Bool("success", result.Success).
		Int("rounds", result.Rounds).
		Int("succeeded", len(result.Aggregate.Succeeded)).
		Int("failed", len(result.Aggregate.Failed)).
		Int("skipped", len(result.Aggregate.Skipped)).
		Dur("duration", result.Duration()).
		Msg("Plan execution completed")

	return result, nil
}

// runRound dispatches every ready step concurrently and blocks until each
// has produced a terminal outcome. Outcomes are applied here, on the
// coordinator goroutine, as they land. Returns the steps that timed out.
func (e *Executor[T]) runRound(
	ctx context.Context,
	logger zerolog.Logger,
	steps map[string]Step,
	state *ExecutionState[T],
	ready []string,
	round int,
	em *emitter,
) []string {
	logger.Debug().Int("round", round).Strs("ready", ready).Msg("Dispatching round")
	observability.RecordRound(len(ready))

	snapshot := state.Outputs()
	for _, id := range ready {
		state.markRunning(id)
	}

	// Dispatched steps finish naturally even if the run is cancelled.
	dispatchCtx := context.WithoutCancel(ctx)
	outcomes := make(chan Outcome[T], len(ready))

	go func() {
		var g errgroup.Group
		if e.opts.maxConcurrency > 0 {
			g.SetLimit(e.opts.maxConcurrency)
		}
		for _, id := range ready {
			step := steps[id]
			deps := maps.Clone(snapshot)
			g.Go(func() error {
				outcomes <- e.runStep(dispatchCtx, step, deps, round, em)
				return nil
			})
		}
		_ = g.Wait()
	}()

	var timedOut []string
	for range ready {
		outcome := <-outcomes
		if !state.apply(outcome) {
			logger.Warn().
				Str("step_id", outcome.StepID).
				Str("status", string(outcome.Status)).
				Msg("Ignoring non-terminal outcome")
			continue
		}
		observability.RecordStepOutcome(string(outcome.Status), outcome.CompletedAt.Sub(outcome.StartedAt), outcome.Attempts)

		if outcome.Succeeded() {
			logger.Info().
				Str("step_id", outcome.StepID).
				Int("attempts", outcome.Attempts).
				Msg("Step succeeded")
			em.emit(Event{
				Kind:    EventTaskComplete,
				StepID:  outcome.StepID,
				Message: fmt.Sprintf("Completed: %s", steps[outcome.StepID].Description),
				Data:    outcome.Output,
				Attempt: outcome.Attempts,
				Round:   round,
			})
			continue
		}

		logger.Error().
			Err(outcome.Err).
			Str("step_id", outcome.StepID).
			Int("attempts", outcome.Attempts).
			Msg("Step failed")
		em.emit(Event{
			Kind:    EventTaskError,
			StepID:  outcome.StepID,
			Message: outcome.Err.Error(),
			Attempt: outcome.Attempts,
			Round:   round,
		})
		if outcome.TimedOut {
			timedOut = append(timedOut, outcome.StepID)
		}
	}

	return timedOut
}

func (e *Executor[T]) runStep(ctx context.Context, step Step, deps map[string]T, round int, em *emitter) Outcome[T] {
	ctx, span := tracing.StartSpan(ctx, tracerName, "planner.Step",
		attribute.String("step.id", step.ID),
		attribute.StringSlice("step.depends_on", step.DependsOn),
		attribute.Bool("step.optional", step.Optional),
		attribute.Int("round", round),
	)
	defer span.End()

	observability.IncActiveSteps()
	defer observability.DecActiveSteps()

	outcome := e.runner.Run(ctx, step, deps, func(event Event) {
		event.Round = round
		em.emit(event)
	})

	span.SetAttributes(attribute.Int("step.attempts", outcome.Attempts))
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return outcome
}

func (e *Executor[T]) applyResolutions(logger zerolog.Logger, state *ExecutionState[T], resolutions []Resolution, round int, em *emitter) {
	now := time.Now()
	for _, r := range resolutions {
		if !state.resolve(r, now) {
			logger.Warn().
				Str("step_id", r.StepID).
				Str("status", string(r.Status)).
				Msg("Ignoring invalid resolution")
			continue
		}
		observability.RecordStepOutcome(string(r.Status), 0, 0)

		kind := EventTaskError
		if r.Status == StepStatusSkipped {
			kind = EventTaskComplete
		}
		logger.Info().
			Str("step_id", r.StepID).
			Str("status", string(r.Status)).
			Strs("blocked_by", r.Err.BlockedBy).
			Msg("Step blocked by dependency")
		em.emit(Event{
			Kind:    kind,
			StepID:  r.StepID,
			Message: r.Err.Error(),
			Data:    map[string]any{"status": r.Status, "blocked_by": r.Err.BlockedBy},
			Round:   round,
		})
	}
}

func (e *Executor[T]) finishAborted(result *Result[T], plan *Plan, state *ExecutionState[T], em *emitter, err error, reason string) (*Result[T], error) {
	result.Status = RunStatusAborted
	result.Success = false
	result.Reason = reason
	result.Err = err
	if state != nil {
		e.fillResult(result, plan, state)
	} else {
		result.CompletedAt = time.Now()
	}

	em.emit(Event{
		Kind:    EventExecutionError,
		Message: err.Error(),
		Data:    map[string]any{"reason": reason, "aggregate": result.Aggregate},
	})

	observability.RecordRun(string(result.Status), false, result.Duration(), result.Rounds)

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		e.logger.Warn().
			Str("run_id", result.RunID).
			Str("reason", reason).
			Int("succeeded", len(result.Outputs)).
			Msg("Plan execution aborted")
	}

	return result, err
}

func (e *Executor[T]) fillResult(result *Result[T], plan *Plan, state *ExecutionState[T]) {
	result.Outputs = state.Outputs()
	result.Steps = state.Snapshot()
	result.Aggregate = buildAggregate(plan, state)
	result.CompletedAt = time.Now()
}
