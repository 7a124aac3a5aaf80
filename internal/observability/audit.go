package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id,omitempty"`
	StepID    string                 `json:"step_id,omitempty"`
	Action    string                 `json:"action"` // e.g. "task_start", "execution_complete"
	Status    string                 `json:"status"` // "success", "failure", "pending"
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger writes audit events as JSON lines
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

// NewAuditLogger creates an audit logger writing to w
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w),
	}
}

// OpenAuditLogger creates an audit logger appending to the file at path
func OpenAuditLogger(path string) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &AuditLogger{
		logger: zerolog.New(file),
		file:   file,
	}, nil
}

// Record emits an audit event to the log and, when ctx carries a recording
// span, as a span event
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ctx != nil {
		span := trace.SpanFromContext(ctx)
		if span.SpanContext().IsValid() {
			event.TraceID = span.SpanContext().TraceID().String()
			span.AddEvent(event.Action, trace.WithAttributes(
				attribute.String("audit.type", event.Type),
				attribute.String("audit.status", event.Status),
				attribute.String("audit.step_id", event.StepID),
			))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("type", event.Type).
		Str("run_id", event.RunID).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.StepID != "" {
		entry.Str("step_id", event.StepID)
	}
	if event.Message != "" {
		entry.Str("message", event.Message)
	}
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}
