package infrastructure

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// contextKey is a type for context keys
type contextKey string

const (
	// TraceIDContextKey holds the run id every record of a run carries
	TraceIDContextKey contextKey = "trace_id"
	// StepContextKey holds the id of the pipeline step being executed
	StepContextKey contextKey = "step"
)

// GenerateTraceID creates a new run id (UUID v4)
func GenerateTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a run id to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, traceID)
}

// GetTraceID returns the run id of ctx, or ""
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDContextKey).(string); ok {
		return traceID
	}
	return ""
}

// EnsureTraceID returns ctx with a run id, generating one if needed
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) == "" {
		return WithTraceID(ctx, GenerateTraceID())
	}
	return ctx
}

// WithStep marks ctx as belonging to a pipeline step
func WithStep(ctx context.Context, stepID string) context.Context {
	return context.WithValue(ctx, StepContextKey, stepID)
}

// GetStep returns the step id of ctx, or ""
func GetStep(ctx context.Context) string {
	if step, ok := ctx.Value(StepContextKey).(string); ok {
		return step
	}
	return ""
}

// WithComponent tags a logger with the emitting package. A nil logger
// falls back to the global one.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = GetLogger()
	}
	return logger.With("component", component)
}
