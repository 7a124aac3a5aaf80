package planner

import "time"

// StepOutput pairs a succeeded step with its output.
type StepOutput[T any] struct {
	StepID      string `json:"step_id"`
	Description string `json:"description"`
	Output      T      `json:"output"`
}

// Aggregate is the final roll-up of a run, in plan order. It is the input
// an external analysis step would summarise.
type Aggregate[T any] struct {
	Outputs   []StepOutput[T] `json:"outputs"`
	Succeeded []string        `json:"succeeded"`
	Failed    []string        `json:"failed"`
	Skipped   []string        `json:"skipped"`
}

// Result is what a run hands back to its caller, whether it completed or
// aborted. Outputs always holds every step that succeeded.
type Result[T any] struct {
	RunID       string                  `json:"run_id"`
	PlanID      string                  `json:"plan_id"`
	Status      RunStatus               `json:"status"`
	Success     bool                    `json:"success"`
	Reason      string                  `json:"reason,omitempty"`
	Err         error                   `json:"-"`
	Outputs     map[string]T            `json:"outputs"`
	Aggregate   Aggregate[T]            `json:"aggregate"`
	Steps       map[string]StepState[T] `json:"steps"`
	Rounds      int                     `json:"rounds"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt time.Time               `json:"completed_at"`
}

// Duration returns the wall time of the run.
func (r *Result[T]) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// RequiredFailures returns the non-optional steps that resolved failed.
// Any entry here makes a completed run unsuccessful.
func RequiredFailures[T any](plan *Plan, state *ExecutionState[T]) []string {
	var ids []string
	for _, step := range plan.Steps {
		if !step.Optional && state.IsFailed(step.ID) {
			ids = append(ids, step.ID)
		}
	}
	return ids
}

func buildAggregate[T any](plan *Plan, state *ExecutionState[T]) Aggregate[T] {
	agg := Aggregate[T]{
		Outputs:   []StepOutput[T]{},
		Succeeded: []string{},
		Failed:    []string{},
		Skipped:   []string{},
	}
	for _, step := range plan.Steps {
		switch {
		case state.IsSucceeded(step.ID):
			agg.Succeeded = append(agg.Succeeded, step.ID)
			agg.Outputs = append(agg.Outputs, StepOutput[T]{
				StepID:      step.ID,
				Description: step.Description,
				Output:      state.outputs[step.ID],
			})
		case state.IsFailed(step.ID):
			agg.Failed = append(agg.Failed, step.ID)
		case state.IsSkipped(step.ID):
			agg.Skipped = append(agg.Skipped, step.ID)
		}
	}
	return agg
}
