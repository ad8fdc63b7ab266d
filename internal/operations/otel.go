package operations

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "posextract.jobs"
)

// JobTracer provides OpenTelemetry spans and instruments for job runs.
// A nil *JobTracer is valid and records nothing.
type JobTracer struct {
	tracer        trace.Tracer
	stageDuration metric.Float64Histogram
	activeJobs    metric.Int64UpDownCounter
}

// NewJobTracer creates the instruments on meter.
func NewJobTracer(meter metric.Meter) (*JobTracer, error) {
	stageDuration, err := meter.Float64Histogram(
		"posextract.stage.duration",
		metric.WithDescription("Duration of pipeline stages"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage duration histogram: %w", err)
	}

	activeJobs, err := meter.Int64UpDownCounter(
		"posextract.jobs.active",
		metric.WithDescription("Jobs currently running"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active jobs counter: %w", err)
	}

	return &JobTracer{
		tracer:        otel.Tracer(TracerName),
		stageDuration: stageDuration,
		activeJobs:    activeJobs,
	}, nil
}

// TraceJob creates a span for the whole job run. The returned func ends it.
func (jt *JobTracer) TraceJob(ctx context.Context, jobID, reportDate string) (context.Context, func(err error)) {
	if jt == nil {
		return ctx, func(error) {}
	}
	ctx, span := jt.tracer.Start(ctx, "job.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("job.report_date", reportDate),
		),
	)
	jt.activeJobs.Add(ctx, 1)

	return ctx, func(err error) {
		jt.activeJobs.Add(ctx, -1)
		endSpan(span, err)
	}
}

// TraceStage creates a span for one pipeline stage and records its duration.
func (jt *JobTracer) TraceStage(ctx context.Context, jobID, stage string) (context.Context, func(err error)) {
	if jt == nil {
		return ctx, func(error) {}
	}
	start := time.Now()
	ctx, span := jt.tracer.Start(ctx, "job.stage."+stage,
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("stage", stage),
		),
	)

	return ctx, func(err error) {
		status := "success"
		if err != nil {
			status = "failure"
		}
		jt.stageDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(
				attribute.String("stage", stage),
				attribute.String("status", status),
			),
		)
		endSpan(span, err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
