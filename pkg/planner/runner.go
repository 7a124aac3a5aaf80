package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// DefaultMaxAttempts is the total number of capability invocations per step.
const DefaultMaxAttempts = 2

// RetryPolicy bounds how often a failing step is re-invoked.
type RetryPolicy struct {
	// MaxAttempts counts every invocation, the first one included.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// NewBackOff builds the delay schedule for one step. Nil means retry
	// immediately. A fresh BackOff is built per step because BackOff values
	// are stateful.
	NewBackOff func() backoff.BackOff
}

// DefaultRetryPolicy retries once, without delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts}
}

// ExponentialBackOff returns a backoff factory for RetryPolicy.NewBackOff.
func ExponentialBackOff(initial, maxInterval time.Duration, multiplier float64) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if initial > 0 {
			b.InitialInterval = initial
		}
		if maxInterval > 0 {
			b.MaxInterval = maxInterval
		}
		if multiplier > 1 {
			b.Multiplier = multiplier
		}
		return b
	}
}

// StepRunner executes one step to a terminal outcome, retrying failures.
// It never touches ExecutionState; the executor applies the outcome.
type StepRunner[T any] struct {
	capability Capability[T]
	policy     RetryPolicy
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewStepRunner creates a runner delegating to capability.
func NewStepRunner[T any](capability Capability[T], policy RetryPolicy, timeout time.Duration, logger zerolog.Logger) *StepRunner[T] {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &StepRunner[T]{
		capability: capability,
		policy:     policy,
		timeout:    timeout,
		logger:     logger,
	}
}

// Run emits task_start, invokes the capability up to MaxAttempts times and
// returns the terminal outcome. The last attempt's error is preserved.
func (r *StepRunner[T]) Run(ctx context.Context, step Step, deps map[string]T, emit func(Event)) Outcome[T] {
	outcome := Outcome[T]{StepID: step.ID, StartedAt: time.Now()}

	emit(Event{
		Kind:    EventTaskStart,
		StepID:  step.ID,
		Message: fmt.Sprintf("Starting: %s", step.Description),
		Data:    map[string]any{"required_capabilities": step.RequiredCapabilities},
	})

	stepCtx := ctx
	cancel := func() {}
	if r.timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	progress := func(message string, data any) {
		emit(Event{
			Kind:    EventTaskProgress,
			StepID:  step.ID,
			Message: message,
			Data:    data,
			Attempt: outcome.Attempts,
		})
	}

	var lastErr error
	operation := func() (T, error) {
		outcome.Attempts++
		output, err := r.invoke(stepCtx, step, deps, progress)
		if err == nil {
			return output, nil
		}
		lastErr = err
		if stepCtx.Err() != nil {
			return output, backoff.Permanent(err)
		}
		return output, err
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if r.policy.NewBackOff != nil {
		b = r.policy.NewBackOff()
	}

	output, err := backoff.Retry(stepCtx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn().
				Err(err).
				Str("step_id", step.ID).
				Int("attempt", outcome.Attempts).
				Int("max_attempts", r.policy.MaxAttempts).
				Dur("backoff", next).
				Msg("Step attempt failed, retrying")
		}),
	)
	outcome.CompletedAt = time.Now()

	if err == nil {
		outcome.Status = StepStatusSucceeded
		outcome.Output = output
		return outcome
	}

	if lastErr == nil {
		lastErr = err
	}
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		outcome.TimedOut = true
		lastErr = fmt.Errorf("%w after %s: %v", ErrStepTimeout, r.timeout, lastErr)
	}

	outcome.Status = StepStatusFailed
	outcome.Err = &StepExecutionError{StepID: step.ID, Attempts: outcome.Attempts, Err: lastErr}
	return outcome
}

// invoke calls the capability once, turning a panic into an error.
func (r *StepRunner[T]) invoke(ctx context.Context, step Step, deps map[string]T, progress ProgressFunc) (output T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("capability panicked: %v", rec)
		}
	}()
	return r.capability.Execute(ctx, step, deps, progress)
}
