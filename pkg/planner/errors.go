package planner

import (
	"context"
	"errors"
	"fmt"
)

// ValidationKind identifies why a plan was rejected before execution.
type ValidationKind string

const (
	ValidationEmptyPlan          ValidationKind = "empty_plan"
	ValidationEmptyID            ValidationKind = "empty_id"
	ValidationDuplicateID        ValidationKind = "duplicate_id"
	ValidationDanglingDependency ValidationKind = "dangling_dependency"
	ValidationCycleDetected      ValidationKind = "cycle_detected"
)

// ValidationError is returned when a plan is structurally unsound.
type ValidationError struct {
	Kind   ValidationKind
	StepID string
	Detail string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case ValidationEmptyPlan:
		return "invalid plan: plan must have at least one step"
	case ValidationEmptyID:
		return fmt.Sprintf("invalid plan: step at index %s has an empty ID", e.Detail)
	case ValidationDuplicateID:
		return fmt.Sprintf("invalid plan: duplicate step ID: %s", e.StepID)
	case ValidationDanglingDependency:
		return fmt.Sprintf("invalid plan: step %s depends on non-existent step: %s", e.StepID, e.Detail)
	case ValidationCycleDetected:
		return fmt.Sprintf("invalid plan: circular dependency detected involving step: %s", e.StepID)
	}
	return fmt.Sprintf("invalid plan: %s", e.Kind)
}

// IsValidationKind reports whether err is a ValidationError of the given kind.
func IsValidationKind(err error, kind ValidationKind) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr) && vErr.Kind == kind
}

// StepExecutionError wraps the last error a capability returned for a step.
type StepExecutionError struct {
	StepID   string
	Attempts int
	Err      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %v", e.StepID, e.Attempts, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// PropagatedBlockError describes a step that never ran because a dependency
// resolved to failed or skipped.
type PropagatedBlockError struct {
	StepID    string
	BlockedBy []string
	Optional  bool
}

func (e *PropagatedBlockError) Error() string {
	if e.Optional {
		return fmt.Sprintf("skipped: blocked dependency %v", e.BlockedBy)
	}
	return fmt.Sprintf("blocked dependency %v", e.BlockedBy)
}

// StallKind identifies the flavour of a stalled run.
type StallKind string

const (
	StallDeadlock   StallKind = "deadlock"
	StallRoundLimit StallKind = "round_limit"
)

// StallError aborts a run that cannot make progress.
type StallError struct {
	Kind       StallKind
	Round      int
	Unresolved []string
}

func (e *StallError) Error() string {
	if e.Kind == StallRoundLimit {
		return fmt.Sprintf("stall/round-limit exceeded after %d rounds, unresolved steps: %v", e.Round, e.Unresolved)
	}
	return fmt.Sprintf("deadlock in round %d: no ready or blocked steps, unresolved steps: %v", e.Round, e.Unresolved)
}

// CancelledError aborts a run that was cancelled or ran past a deadline.
type CancelledError struct {
	Reason string
	Cause  error
}

func (e *CancelledError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	return e.Reason
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// ErrStepTimeout marks a step whose deadline was breached.
var ErrStepTimeout = errors.New("step timeout")

func newCancelledError(cause error) *CancelledError {
	switch {
	case errors.Is(cause, ErrStepTimeout):
		return &CancelledError{Reason: "step timeout", Cause: cause}
	case errors.Is(cause, context.DeadlineExceeded):
		return &CancelledError{Reason: "deadline exceeded", Cause: cause}
	default:
		return &CancelledError{Reason: "cancelled", Cause: cause}
	}
}
