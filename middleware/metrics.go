package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/mediaflow/job"
)

const meterName = "github.com/xraph/mediaflow"

// Metrics returns middleware that records per-stage metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - mediaflow.job.duration (Float64Histogram): execution time in seconds
//   - mediaflow.job.executions (Int64Counter): executions by outcome
//   - mediaflow.job.reruns (Int64Counter): executions of a job moved back
//     to pending at least once
//
// All carry job_type. Duration and executions also carry outcome
// ("completed", "transient" or "permanent").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback
		"mediaflow.job.duration",
		metric.WithDescription("Duration of stage execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter( //nolint:errcheck // noop fallback
		"mediaflow.job.executions",
		metric.WithDescription("Stage executions by outcome"),
		metric.WithUnit("{execution}"),
	)
	reruns, _ := meter.Int64Counter( //nolint:errcheck // noop fallback
		"mediaflow.job.reruns",
		metric.WithDescription("Executions of jobs that were retried"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		jobType := attribute.String("job_type", string(j.Type))
		if j.Attempts > 0 {
			reruns.Add(ctx, 1, metric.WithAttributes(jobType))
		}

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(jobType, attribute.String("outcome", Outcome(err)))
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
