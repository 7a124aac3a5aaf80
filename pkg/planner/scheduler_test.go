package planner

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func succeed[T any](state *ExecutionState[T], id string, out T) {
	state.apply(Outcome[T]{StepID: id, Status: StepStatusSucceeded, Output: out, Attempts: 1})
}

func fail[T any](state *ExecutionState[T], id string) {
	state.apply(Outcome[T]{StepID: id, Status: StepStatusFailed, Err: errors.New("boom"), Attempts: 2})
}

func TestReadySteps(t *testing.T) {
	plan := mustPlan(t,
		Step{ID: "a"},
		Step{ID: "b", DependsOn: []string{"a"}},
		Step{ID: "c"},
		Step{ID: "d", DependsOn: []string{"b", "c"}},
	)
	state := NewExecutionState[string](plan)

	assert.Equal(t, []string{"a", "c"}, ReadySteps(plan, state))
	assert.Equal(t, ReadySteps(plan, state), ReadySteps(plan, state), "readiness must be idempotent")

	state.markRunning("a")
	assert.Equal(t, []string{"c"}, ReadySteps(plan, state))

	succeed(state, "a", "A")
	succeed(state, "c", "C")
	assert.Equal(t, []string{"b"}, ReadySteps(plan, state))

	succeed(state, "b", "B")
	assert.Equal(t, []string{"d"}, ReadySteps(plan, state))
}

func TestReadySteps_SkippedDependencyDoesNotSatisfy(t *testing.T) {
	plan := mustPlan(t,
		Step{ID: "a", Optional: true},
		Step{ID: "b", DependsOn: []string{"a"}},
	)
	state := NewExecutionState[string](plan)
	require.True(t, state.resolve(Resolution{StepID: "a", Status: StepStatusSkipped}, time.Now()))

	assert.Empty(t, ReadySteps(plan, state))
}

func TestPropagateFailures(t *testing.T) {
	plan := mustPlan(t,
		Step{ID: "a"},
		Step{ID: "req", DependsOn: []string{"a"}},
		Step{ID: "opt", DependsOn: []string{"a"}, Optional: true},
		Step{ID: "grand", DependsOn: []string{"req"}},
		Step{ID: "free"},
	)
	state := NewExecutionState[int](plan)
	fail(state, "a")

	resolutions := PropagateFailures(plan, state)
	require.Len(t, resolutions, 2)

	assert.Equal(t, "req", resolutions[0].StepID)
	assert.Equal(t, StepStatusFailed, resolutions[0].Status)
	assert.Equal(t, []string{"a"}, resolutions[0].Err.BlockedBy)
	assert.Equal(t, "blocked dependency [a]", resolutions[0].Err.Error())

	assert.Equal(t, "opt", resolutions[1].StepID)
	assert.Equal(t, StepStatusSkipped, resolutions[1].Status)
	assert.Equal(t, "skipped: blocked dependency [a]", resolutions[1].Err.Error())

	// The state is untouched; grand is picked up after req resolves.
	assert.Equal(t, StepStatusQueued, state.Status("req"))
	for _, r := range resolutions {
		require.True(t, state.resolve(r, time.Now()))
	}
	next := PropagateFailures(plan, state)
	require.Len(t, next, 1)
	assert.Equal(t, "grand", next[0].StepID)
	assert.Equal(t, StepStatusFailed, next[0].Status)
}

func TestExecutionState(t *testing.T) {
	plan := mustPlan(t, Step{ID: "a"}, Step{ID: "b"})
	state := NewExecutionState[string](plan)

	assert.Equal(t, StepStatusQueued, state.Status("a"))
	assert.Equal(t, StepStatus(""), state.Status("nope"))
	assert.Equal(t, []string{"a", "b"}, state.Unresolved(plan))

	succeed(state, "a", "out-a")
	assert.True(t, state.IsSucceeded("a"))
	assert.Equal(t, map[string]string{"a": "out-a"}, state.Outputs())

	t.Run("terminal steps never move", func(t *testing.T) {
		assert.False(t, state.apply(Outcome[string]{StepID: "a", Status: StepStatusFailed}))
		assert.False(t, state.resolve(Resolution{StepID: "a", Status: StepStatusSkipped}, time.Now()))
		assert.True(t, state.IsSucceeded("a"))
		assert.False(t, state.IsFailed("a"))
	})

	t.Run("non-terminal outcome ignored", func(t *testing.T) {
		assert.False(t, state.apply(Outcome[string]{StepID: "b", Status: StepStatusRunning}))
		assert.False(t, state.resolve(Resolution{StepID: "b", Status: StepStatusQueued}, time.Now()))
		assert.False(t, state.IsResolved("b"))
	})

	t.Run("outputs snapshot is a copy", func(t *testing.T) {
		out := state.Outputs()
		out["x"] = "mutated"
		_, ok := state.Outputs()["x"]
		assert.False(t, ok)
	})

	fail(state, "b")
	st, ok := state.Step("b")
	require.True(t, ok)
	assert.Equal(t, "boom", st.Error)
	assert.Equal(t, 2, st.Attempts)
	assert.True(t, state.AllResolved(plan))
}
