package planner

// Resolution is a propagator decision for one blocked step.
type Resolution struct {
	StepID string
	Status StepStatus // StepStatusSkipped or StepStatusFailed
	Err    *PropagatedBlockError
}

// PropagateFailures decides the fate of every unresolved step that is blocked
// by a failed or skipped dependency. Optional steps resolve as skipped,
// required steps as failed. An empty result while steps remain unresolved
// means the run is deadlocked.
//
// The decision is made against the state as passed in: a step blocked only
// by a step resolved in this same pass is picked up on the next call.
func PropagateFailures[T any](plan *Plan, state *ExecutionState[T]) []Resolution {
	var resolutions []Resolution
	for _, step := range plan.Steps {
		if state.IsResolved(step.ID) {
			continue
		}

		var blockedBy []string
		for _, dep := range step.DependsOn {
			if state.IsFailed(dep) || state.IsSkipped(dep) {
				blockedBy = append(blockedBy, dep)
			}
		}
		if len(blockedBy) == 0 {
			continue
		}

		status := StepStatusFailed
		if step.Optional {
			status = StepStatusSkipped
		}
		resolutions = append(resolutions, Resolution{
			StepID: step.ID,
			Status: status,
			Err: &PropagatedBlockError{
				StepID:    step.ID,
				BlockedBy: blockedBy,
				Optional:  step.Optional,
			},
		})
	}
	return resolutions
}
