package planner

import (
	"strconv"
)

// Validate checks a plan for structural soundness: non-empty unique step IDs,
// dependencies that reference steps in the same plan, and no cycles.
func Validate(plan *Plan) error {
	if plan == nil || len(plan.Steps) == 0 {
		return &ValidationError{Kind: ValidationEmptyPlan}
	}

	// Check for empty and duplicate step IDs
	stepIDs := make(map[string]bool, len(plan.Steps))
	for i, step := range plan.Steps {
		if step.ID == "" {
			return &ValidationError{Kind: ValidationEmptyID, Detail: strconv.Itoa(i)}
		}
		if stepIDs[step.ID] {
			return &ValidationError{Kind: ValidationDuplicateID, StepID: step.ID}
		}
		stepIDs[step.ID] = true
	}

	// Validate dependencies
	for _, step := range plan.Steps {
		for _, depID := range step.DependsOn {
			if !stepIDs[depID] {
				return &ValidationError{Kind: ValidationDanglingDependency, StepID: step.ID, Detail: depID}
			}
		}
	}

	return checkCircularDependencies(plan.Steps)
}

// checkCircularDependencies detects cycles with a DFS over the dependency
// graph, tracking the recursion stack. Steps are visited in plan order so
// the reported step is stable across calls.
func checkCircularDependencies(steps []Step) error {
	graph := make(map[string][]string, len(steps))
	for _, step := range steps {
		graph[step.ID] = step.DependsOn
	}

	visited := make(map[string]bool, len(steps))
	recStack := make(map[string]bool, len(steps))

	var cycleAt string
	var hasCycle func(string) bool
	hasCycle = func(stepID string) bool {
		visited[stepID] = true
		recStack[stepID] = true

		for _, dep := range graph[stepID] {
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				cycleAt = dep
				return true
			}
		}

		recStack[stepID] = false
		return false
	}

	for _, step := range steps {
		if !visited[step.ID] && hasCycle(step.ID) {
			return &ValidationError{Kind: ValidationCycleDetected, StepID: cycleAt}
		}
	}

	return nil
}
