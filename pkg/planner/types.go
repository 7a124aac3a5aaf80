package planner

import "time"

// Plan represents a multi-step execution plan
type Plan struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
}

// Step represents a single unit of work in a plan
type Step struct {
	ID                   string            `json:"id"`
	Description          string            `json:"description"`
	RequiredCapabilities []string          `json:"required_capabilities,omitempty"`
	DependsOn            []string          `json:"depends_on,omitempty"` // IDs of steps that must succeed first
	Optional             bool              `json:"optional,omitempty"`
	Inputs               map[string]string `json:"inputs,omitempty"` // forwarded to the capability untouched
}

// StepStatus represents the lifecycle status of a step
type StepStatus string

const (
	StepStatusQueued    StepStatus = "queued"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// IsTerminal reports whether no further transitions are possible.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusSucceeded || s == StepStatusFailed || s == StepStatusSkipped
}

// RunStatus represents the state of a whole run
type RunStatus string

const (
	RunStatusNotStarted RunStatus = "not_started"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusAborted    RunStatus = "aborted"
)

// StepState is the coordinator's view of one step during a run.
type StepState[T any] struct {
	Status      StepStatus `json:"status"`
	Output      T          `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
}

// Outcome is what the step runner hands back to the coordinator.
type Outcome[T any] struct {
	StepID      string
	Status      StepStatus // StepStatusSucceeded or StepStatusFailed
	Output      T
	Err         error
	Attempts    int
	TimedOut    bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// Succeeded reports whether the outcome carries an output.
func (o Outcome[T]) Succeeded() bool {
	return o.Status == StepStatusSucceeded
}
