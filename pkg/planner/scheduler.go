package planner

// ReadySteps returns the IDs of queued steps whose dependencies have all
// succeeded, in plan order. A skipped dependency does not satisfy a step.
// It is a pure function of plan and state.
func ReadySteps[T any](plan *Plan, state *ExecutionState[T]) []string {
	var ready []string
	for _, step := range plan.Steps {
		if state.Status(step.ID) != StepStatusQueued {
			continue
		}

		allDepsSucceeded := true
		for _, dep := range step.DependsOn {
			if !state.IsSucceeded(dep) {
				allDepsSucceeded = false
				break
			}
		}

		if allDepsSucceeded {
			ready = append(ready, step.ID)
		}
	}
	return ready
}
