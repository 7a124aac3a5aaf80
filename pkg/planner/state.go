package planner

import (
	"maps"
	"time"
)

// ExecutionState is the coordinator's working set for one run. Only the
// executor mutates it; the scheduler and propagator read it.
type ExecutionState[T any] struct {
	steps     map[string]*StepState[T]
	succeeded map[string]struct{}
	failed    map[string]struct{}
	skipped   map[string]struct{}
	outputs   map[string]T
}

// NewExecutionState creates a state with every plan step queued.
func NewExecutionState[T any](plan *Plan) *ExecutionState[T] {
	s := &ExecutionState[T]{
		steps:     make(map[string]*StepState[T], len(plan.Steps)),
		succeeded: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		skipped:   make(map[string]struct{}),
		outputs:   make(map[string]T),
	}
	for _, step := range plan.Steps {
		s.steps[step.ID] = &StepState[T]{Status: StepStatusQueued}
	}
	return s
}

// Status returns the current status of a step, or "" for unknown IDs.
func (s *ExecutionState[T]) Status(stepID string) StepStatus {
	if st, ok := s.steps[stepID]; ok {
		return st.Status
	}
	return ""
}

// Step returns a copy of a step's state.
func (s *ExecutionState[T]) Step(stepID string) (StepState[T], bool) {
	st, ok := s.steps[stepID]
	if !ok {
		return StepState[T]{}, false
	}
	return *st, true
}

// IsSucceeded reports membership in the succeeded set.
func (s *ExecutionState[T]) IsSucceeded(stepID string) bool {
	_, ok := s.succeeded[stepID]
	return ok
}

// IsFailed reports membership in the failed set.
func (s *ExecutionState[T]) IsFailed(stepID string) bool {
	_, ok := s.failed[stepID]
	return ok
}

// IsSkipped reports membership in the skipped set.
func (s *ExecutionState[T]) IsSkipped(stepID string) bool {
	_, ok := s.skipped[stepID]
	return ok
}

// IsResolved reports whether a step reached a terminal status.
func (s *ExecutionState[T]) IsResolved(stepID string) bool {
	return s.IsSucceeded(stepID) || s.IsFailed(stepID) || s.IsSkipped(stepID)
}

// Unresolved returns the IDs of steps that are not terminal, in plan order.
func (s *ExecutionState[T]) Unresolved(plan *Plan) []string {
	var ids []string
	for _, step := range plan.Steps {
		if !s.IsResolved(step.ID) {
			ids = append(ids, step.ID)
		}
	}
	return ids
}

// AllResolved reports whether every plan step is terminal.
func (s *ExecutionState[T]) AllResolved(plan *Plan) bool {
	return len(s.Unresolved(plan)) == 0
}

// Outputs returns a snapshot of the succeeded-output accumulator.
func (s *ExecutionState[T]) Outputs() map[string]T {
	return maps.Clone(s.outputs)
}

// Snapshot returns a copy of every step's state.
func (s *ExecutionState[T]) Snapshot() map[string]StepState[T] {
	out := make(map[string]StepState[T], len(s.steps))
	for id, st := range s.steps {
		out[id] = *st
	}
	return out
}

func (s *ExecutionState[T]) markRunning(stepID string) {
	if st, ok := s.steps[stepID]; ok && st.Status == StepStatusQueued {
		st.Status = StepStatusRunning
	}
}

// apply folds a runner outcome into the state. Terminal steps never move.
func (s *ExecutionState[T]) apply(o Outcome[T]) bool {
	st, ok := s.steps[o.StepID]
	if !ok || st.Status.IsTerminal() {
		return false
	}

	st.Attempts = o.Attempts
	st.StartedAt = o.StartedAt
	st.CompletedAt = o.CompletedAt

	switch o.Status {
	case StepStatusSucceeded:
		st.Status = StepStatusSucceeded
		st.Output = o.Output
		s.succeeded[o.StepID] = struct{}{}
		s.outputs[o.StepID] = o.Output
	case StepStatusFailed:
		st.Status = StepStatusFailed
		if o.Err != nil {
			st.Error = o.Err.Error()
		}
		s.failed[o.StepID] = struct{}{}
	default:
		// Non-terminal outcome: leave the step where it was.
		return false
	}
	return true
}

// resolve applies a propagator decision. Returns false when nothing changed.
func (s *ExecutionState[T]) resolve(r Resolution, at time.Time) bool {
	st, ok := s.steps[r.StepID]
	if !ok || st.Status.IsTerminal() {
		return false
	}

	switch r.Status {
	case StepStatusSkipped:
		st.Status = StepStatusSkipped
		s.skipped[r.StepID] = struct{}{}
	case StepStatusFailed:
		st.Status = StepStatusFailed
		s.failed[r.StepID] = struct{}{}
	default:
		return false
	}
	if r.Err != nil {
		st.Error = r.Err.Error()
	}
	st.CompletedAt = at
	return true
}
