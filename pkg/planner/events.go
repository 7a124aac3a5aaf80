package planner

import (
	"sync"
	"time"
)

// EventKind identifies a progress event emitted during a run.
type EventKind string

const (
	EventPlan              EventKind = "plan"
	EventTaskStart         EventKind = "task_start"
	EventTaskProgress      EventKind = "task_progress"
	EventTaskComplete      EventKind = "task_complete"
	EventTaskError         EventKind = "task_error"
	EventExecutionComplete EventKind = "execution_complete"
	EventExecutionError    EventKind = "execution_error"
)

// Event is a single progress notification. StepID is empty for plan-level events.
type Event struct {
	Kind    EventKind `json:"kind"`
	RunID   string    `json:"run_id,omitempty"`
	StepID  string    `json:"step_id,omitempty"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Round   int       `json:"round,omitempty"`
	Time    time.Time `json:"time"`
}

// Sink receives events. The executor never calls Emit concurrently.
type Sink interface {
	Emit(event Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event Event)

// Emit calls f(event).
func (f SinkFunc) Emit(event Event) {
	f(event)
}

// MultiSink forwards each event to every non-nil sink in order.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(event)
		}
	}
}

// Recorder captures events in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements Sink.
func (r *Recorder) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded event kinds for a step, or for plan-level
// events when stepID is empty.
func (r *Recorder) Kinds(stepID string) []EventKind {
	var kinds []EventKind
	for _, e := range r.Events() {
		if e.StepID == stepID {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

// Count returns how many events of a kind were recorded.
func (r *Recorder) Count(kind EventKind) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// emitter serializes emits from concurrently running steps and stamps
// run-level metadata.
type emitter struct {
	mu    sync.Mutex
	sink  Sink
	runID string
}

func (e *emitter) emit(event Event) {
	if e == nil || e.sink == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	event.RunID = e.runID

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink.Emit(event)
}
