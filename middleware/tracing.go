package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/mediaflow/job"
)

const tracerName = "github.com/xraph/mediaflow"

// Tracing returns middleware that wraps each stage execution in a span
// named after the stage, e.g. "mediaflow.transcription". Without a global
// TracerProvider the noop tracer is used.
//
// Span attributes: mediaflow.job.id, mediaflow.job.type,
// mediaflow.subject.id, mediaflow.subject.kind, mediaflow.job.attempts and,
// once the executor returns, mediaflow.job.outcome.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "mediaflow."+string(j.Type),
			trace.WithAttributes(
				attribute.String("mediaflow.job.id", j.ID.String()),
				attribute.String("mediaflow.job.type", string(j.Type)),
				attribute.String("mediaflow.subject.id", j.SubjectID.String()),
				attribute.String("mediaflow.subject.kind", string(j.Type.SubjectPrefix())),
				attribute.Int("mediaflow.job.attempts", j.Attempts),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		span.SetAttributes(attribute.String("mediaflow.job.outcome", Outcome(err)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
