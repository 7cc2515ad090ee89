package operations

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"factorpanel/internal/infrastructure"
)

const (
	TracerName = "factorpanel.pipeline"
)

// OperationTracer provides OpenTelemetry instrumentation for pipeline runs
type OperationTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.PipelineMetrics
}

// NewOperationTracer creates a tracer bound to the run's providers. Nil
// providers give a tracer that records nothing.
func NewOperationTracer(providers *infrastructure.OTelProviders) (*OperationTracer, error) {
	if providers == nil {
		return &OperationTracer{tracer: tracenoop.NewTracerProvider().Tracer(TracerName)}, nil
	}

	metrics, err := infrastructure.CreatePipelineMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	tracer := providers.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(TracerName)
	}
	return &OperationTracer{
		tracer:  tracer,
		metrics: metrics,
	}, nil
}

// TraceOperationExecution creates the root span of a run
func (pt *OperationTracer) TraceOperationExecution(ctx context.Context, runID string, steps []string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.StringSlice("run.steps", steps),
		),
	)
}

// TraceStageExecution creates a span for one step attempt
func (pt *OperationTracer) TraceStageExecution(ctx context.Context, runID, stageID string, attempt int) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline.step."+stageID,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("step.id", stageID),
			attribute.Int("step.attempt", attempt),
		),
	)
}

// RecordStageCompletion closes out a step attempt on its span and in the
// pipeline metrics
func (pt *OperationTracer) RecordStageCompletion(ctx context.Context, span trace.Span, stageID string, duration time.Duration, rows int, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	span.SetAttributes(
		attribute.String("step.status", status),
		attribute.Float64("step.duration_seconds", duration.Seconds()),
		attribute.Int("step.rows", rows),
	)
	pt.metrics.RecordStepMetrics(ctx, stageID, duration, rows, err)

	if err != nil {
		infrastructure.RecordError(ctx, err,
			trace.WithAttributes(
				attribute.String("step.id", stageID),
				attribute.String("error.type", string(GetErrorType(err))),
			),
		)
		return
	}
	span.SetStatus(codes.Ok, "step completed")
}

// RecordOperationCompletion closes out a run
func (pt *OperationTracer) RecordOperationCompletion(ctx context.Context, span trace.Span, duration time.Duration, err error) {
	span.SetAttributes(attribute.Float64("run.duration_seconds", duration.Seconds()))
	pt.metrics.RecordRun(ctx, duration, err)

	if err != nil {
		infrastructure.RecordError(ctx, err, trace.WithAttributes(attribute.String("error.type", string(GetErrorType(err)))))
		return
	}
	span.SetStatus(codes.Ok, "run completed")
}
