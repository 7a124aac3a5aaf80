package planner

import "context"

// ProgressFunc reports a sub-step of a capability call. The executor forwards
// each report as a task_progress event.
type ProgressFunc func(message string, data any)

// Capability performs the actual work of a step. It is invoked once per
// attempt; deps holds the outputs of every step that has succeeded so far.
type Capability[T any] interface {
	Execute(ctx context.Context, step Step, deps map[string]T, progress ProgressFunc) (T, error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc[T any] func(ctx context.Context, step Step, deps map[string]T, progress ProgressFunc) (T, error)

// Execute calls f.
func (f CapabilityFunc[T]) Execute(ctx context.Context, step Step, deps map[string]T, progress ProgressFunc) (T, error) {
	return f(ctx, step, deps, progress)
}
