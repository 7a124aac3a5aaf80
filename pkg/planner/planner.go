package planner

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// NewPlan creates a validated plan with the given description and steps.
// Steps without an ID are named step-N after their position.
func NewPlan(description string, steps []Step) (*Plan, error) {
	if description == "" {
		return nil, fmt.Errorf("plan description cannot be empty")
	}

	// Copy so the caller's slice stays untouched
	owned := make([]Step, len(steps))
	copy(owned, steps)
	for i := range owned {
		if owned[i].ID == "" {
			owned[i].ID = fmt.Sprintf("step-%d", i+1)
		}
	}

	plan := &Plan{
		ID:          uuid.New().String(),
		Description: description,
		Steps:       owned,
		CreatedAt:   time.Now(),
	}

	if err := Validate(plan); err != nil {
		return nil, err
	}

	return plan, nil
}

// Step returns the step with the given ID.
func (p *Plan) Step(id string) (Step, bool) {
	for _, step := range p.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return Step{}, false
}

// ExecutionLevels returns step IDs grouped into the rounds an all-succeeding
// run would take (topological sort with level tracking). Within a level IDs
// keep plan order. The plan must be valid.
func ExecutionLevels(plan *Plan) ([][]string, error) {
	if err := Validate(plan); err != nil {
		return nil, err
	}

	dependents := make(map[string][]string)
	inDegree := make(map[string]int, len(plan.Steps))
	order := make(map[string]int, len(plan.Steps))

	for i, step := range plan.Steps {
		order[step.ID] = i
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.ID)
			inDegree[step.ID]++
		}
	}

	var queue []string
	for _, step := range plan.Steps {
		if inDegree[step.ID] == 0 {
			queue = append(queue, step.ID)
		}
	}

	var levels [][]string
	for len(queue) > 0 {
		levels = append(levels, queue)

		var next []string
		for _, stepID := range queue {
			for _, dependent := range dependents[stepID] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sortByPlanOrder(next, order)
		queue = next
	}

	return levels, nil
}

func sortByPlanOrder(ids []string, order map[string]int) {
	slices.SortFunc(ids, func(a, b string) int {
		return order[a] - order[b]
	})
}
