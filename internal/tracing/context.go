package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the plan run ID
	RunIDKey ContextKey = "run_id"
	// PlanIDKey is the context key for plan ID
	PlanIDKey ContextKey = "plan_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID string
	RunID   string
	PlanID  string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithPlanID adds a plan ID to the context
func WithPlanID(ctx context.Context, planID string) context.Context {
	return context.WithValue(ctx, PlanIDKey, planID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	return stringValue(ctx, RunIDKey)
}

// GetPlanID retrieves the plan ID from the context
func GetPlanID(ctx context.Context) string {
	return stringValue(ctx, PlanIDKey)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) TraceContext {
	return TraceContext{
		TraceID: GetTraceID(ctx),
		RunID:   GetRunID(ctx),
		PlanID:  GetPlanID(ctx),
	}
}
