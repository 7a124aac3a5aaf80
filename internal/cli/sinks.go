package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/harun/stepflow/internal/observability"
	"github.com/harun/stepflow/pkg/planner"
)

// consoleSink prints one line per event.
type consoleSink struct {
	out io.Writer
}

func (s consoleSink) Emit(e planner.Event) {
	step := e.StepID
	if step == "" {
		step = "-"
	}
	fmt.Fprintf(s.out, "%s  %-18s %-14s %s\n", e.Time.Format("15:04:05.000"), e.Kind, step, e.Message)
}

// auditSink records every event in the audit log.
type auditSink struct {
	ctx   context.Context
	audit *observability.AuditLogger
}

func (s auditSink) Emit(e planner.Event) {
	metadata := map[string]interface{}{}
	if e.Attempt > 0 {
		metadata["attempt"] = e.Attempt
	}
	if e.Round > 0 {
		metadata["round"] = e.Round
	}

	s.audit.Record(s.ctx, observability.AuditEvent{
		Type:      "plan_execution",
		Timestamp: e.Time,
		RunID:     e.RunID,
		StepID:    e.StepID,
		Action:    string(e.Kind),
		Status:    auditStatus(e.Kind),
		Message:   e.Message,
		Metadata:  metadata,
	})
}

func auditStatus(kind planner.EventKind) string {
	switch kind {
	case planner.EventTaskComplete, planner.EventExecutionComplete:
		return "success"
	case planner.EventTaskError, planner.EventExecutionError:
		return "failure"
	default:
		return "pending"
	}
}
