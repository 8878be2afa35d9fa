package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/mediaflow/ext"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/xraph/mediaflow/observability"

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobCreated     = (*MetricsExtension)(nil)
	_ ext.JobClaimed     = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobRetried     = (*MetricsExtension)(nil)
	_ ext.SubjectCreated = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle counters. Register it as an extension
// to track creation, claim, completion, failure and retry rates per job
// type.
type MetricsExtension struct {
	JobCreated     metric.Int64Counter
	JobClaimed     metric.Int64Counter
	JobCompleted   metric.Int64Counter
	JobFailed      metric.Int64Counter
	JobRetried     metric.Int64Counter
	SubjectCreated metric.Int64Counter
	ProcessingTime metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// On error the API returns noop instruments.
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}")) //nolint:errcheck // noop fallback
		return c
	}
	subjects, _ := meter.Int64Counter("mediaflow.subject.created", //nolint:errcheck // noop fallback
		metric.WithDescription("Subjects registered"),
		metric.WithUnit("{subject}"),
	)
	processing, _ := meter.Float64Histogram("mediaflow.job.processing_time", //nolint:errcheck // noop fallback
		metric.WithDescription("Time from claim to completion in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobCreated:     counter("mediaflow.job.created", "Jobs created"),
		JobClaimed:     counter("mediaflow.job.claimed", "Jobs claimed by a worker"),
		JobCompleted:   counter("mediaflow.job.completed", "Jobs completed"),
		JobFailed:      counter("mediaflow.job.failed", "Jobs failed"),
		JobRetried:     counter("mediaflow.job.retried", "Failed jobs reset to pending"),
		SubjectCreated: subjects,
		ProcessingTime: processing,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func typeAttr(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_type", string(j.Type)))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobCreated implements ext.JobCreated.
func (m *MetricsExtension) OnJobCreated(ctx context.Context, j *job.Job) error {
	m.JobCreated.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobClaimed implements ext.JobClaimed.
func (m *MetricsExtension) OnJobClaimed(ctx context.Context, j *job.Job) error {
	m.JobClaimed.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job) error {
	m.JobCompleted.Add(ctx, 1, typeAttr(j))
	m.ProcessingTime.Record(ctx, j.ProcessingTime.Seconds(), typeAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed. Failures carry their class.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job) error {
	class := "unknown"
	if j.Error != nil {
		class = string(j.Error.Class)
	}
	m.JobFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_type", string(j.Type)),
		attribute.String("class", class),
	))
	return nil
}

// OnJobRetried implements ext.JobRetried.
func (m *MetricsExtension) OnJobRetried(ctx context.Context, j *job.Job) error {
	m.JobRetried.Add(ctx, 1, typeAttr(j))
	return nil
}

// ── Subject hooks ───────────────────────────────────

// OnSubjectCreated implements ext.SubjectCreated.
func (m *MetricsExtension) OnSubjectCreated(ctx context.Context, s *subject.Subject) error {
	m.SubjectCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(s.Kind()))))
	return nil
}
