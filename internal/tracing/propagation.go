package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext adds the tracing fields found in ctx to logger
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.PlanID != "" {
		lc = lc.Str("plan_id", tc.PlanID)
	}
	return lc.Logger()
}
