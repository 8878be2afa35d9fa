package observability_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/mediaflow/ext"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/observability"
	"github.com/xraph/mediaflow/subject"
	"github.com/xraph/mediaflow/worker"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	return job.New(id.NewVideoID(), job.TypeTranscription)
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func find(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue sums an Int64 counter across attribute sets.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := find(rm, name)
	if m == nil {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Hooks(t *testing.T) {
	tests := []struct {
		name   string
		metric string
		fire   func(*observability.MetricsExtension, context.Context, *job.Job) error
	}{
		{"created", "mediaflow.job.created", (*observability.MetricsExtension).OnJobCreated},
		{"claimed", "mediaflow.job.claimed", (*observability.MetricsExtension).OnJobClaimed},
		{"completed", "mediaflow.job.completed", (*observability.MetricsExtension).OnJobCompleted},
		{"failed", "mediaflow.job.failed", (*observability.MetricsExtension).OnJobFailed},
		{"retried", "mediaflow.job.retried", (*observability.MetricsExtension).OnJobRetried},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, reader := newTestExtension()
			if err := tt.fire(e, context.Background(), newTestJob()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := counterValue(t, collect(t, reader), tt.metric); got != 1 {
				t.Errorf("%s: want 1, got %d", tt.metric, got)
			}
		})
	}
}

func TestMetricsExtension_FailedCarriesClass(t *testing.T) {
	e, reader := newTestExtension()
	j := newTestJob()
	j.Error = &job.ErrorDetails{Class: job.ClassTransient, Message: "timeout"}
	_ = e.OnJobFailed(context.Background(), j)

	m := find(collect(t, reader), "mediaflow.job.failed")
	if m == nil {
		t.Fatal("mediaflow.job.failed not found")
	}
	dp := m.Data.(metricdata.Sum[int64]).DataPoints[0]
	if v, ok := dp.Attributes.Value(attribute.Key("class")); !ok || v.AsString() != "transient" {
		t.Errorf("class attribute = %v, want transient", v.AsString())
	}
	if v, ok := dp.Attributes.Value(attribute.Key("job_type")); !ok || v.AsString() != "transcription" {
		t.Errorf("job_type attribute = %v", v.AsString())
	}
}

func TestMetricsExtension_ProcessingTime(t *testing.T) {
	e, reader := newTestExtension()
	j := newTestJob()
	j.ProcessingTime = 1500 * time.Millisecond
	_ = e.OnJobCompleted(context.Background(), j)

	m := find(collect(t, reader), "mediaflow.job.processing_time")
	if m == nil {
		t.Fatal("mediaflow.job.processing_time not found")
	}
	hist := m.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 1.5 {
		t.Errorf("histogram = %+v, want one 1.5s sample", hist.DataPoints)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()
	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitSubjectCreated(ctx, subject.NewVideo("talk.mp4"))
	reg.EmitJobCreated(ctx, j)
	reg.EmitJobClaimed(ctx, j)
	reg.EmitJobFailed(ctx, j)
	reg.EmitJobRetried(ctx, j)
	reg.EmitJobClaimed(ctx, j)
	reg.EmitJobCompleted(ctx, j)

	rm := collect(t, reader)
	checks := []struct {
		name string
		want int64
	}{
		{"mediaflow.subject.created", 1},
		{"mediaflow.job.created", 1},
		{"mediaflow.job.claimed", 2},
		{"mediaflow.job.failed", 1},
		{"mediaflow.job.retried", 1},
		{"mediaflow.job.completed", 1},
	}
	for _, c := range checks {
		if got := counterValue(t, rm, c.name); got != c.want {
			t.Errorf("%s: want %d, got %d", c.name, c.want, got)
		}
	}
}

func TestRegisterPoolGauges(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	stats := worker.Stats{Busy: 2, Queued: 1, Reserved: 4, PendingRetries: 3}
	reg, err := observability.RegisterPoolGauges(mp.Meter("test"), func() worker.Stats { return stats })
	if err != nil {
		t.Fatalf("RegisterPoolGauges: %v", err)
	}
	defer func() { _ = reg.Unregister() }()

	rm := collect(t, reader)
	want := map[string]int64{
		"mediaflow.pool.busy":            2,
		"mediaflow.pool.queued":          1,
		"mediaflow.pool.reserved":        4,
		"mediaflow.pool.pending_retries": 3,
	}
	for name, v := range want {
		m := find(rm, name)
		if m == nil {
			t.Fatalf("%s not found", name)
		}
		g := m.Data.(metricdata.Gauge[int64])
		if len(g.DataPoints) != 1 || g.DataPoints[0].Value != v {
			t.Errorf("%s = %+v, want %d", name, g.DataPoints, v)
		}
	}
}
