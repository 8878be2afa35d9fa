package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/mediaflow/executor"
	mw "github.com/xraph/mediaflow/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func outcomeOf(attrs []attribute.KeyValue) string {
	for _, a := range attrs {
		if a.Key == "outcome" {
			return a.Value.AsString()
		}
	}
	return ""
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	meter := mp.Meter("test")
	m := mw.MetricsWithMeter(meter)
	j := newTestJob()

	_ = m(context.Background(), j, func(_ context.Context) error {
		return nil
	})

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "mediaflow.job.duration")
	if metric == nil {
		t.Fatal("mediaflow.job.duration metric not found")
	}

	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points recorded for duration")
	}
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("expected count=1, got %d", hist.DataPoints[0].Count)
	}
}

func TestMetrics_RecordsExecutions_Success(t *testing.T) {
	reader, mp := setupTestMeter()
	meter := mp.Meter("test")
	m := mw.MetricsWithMeter(meter)
	j := newTestJob()

	_ = m(context.Background(), j, func(_ context.Context) error {
		return nil
	})

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "mediaflow.job.executions")
	if metric == nil {
		t.Fatal("mediaflow.job.executions metric not found")
	}

	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points recorded")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("expected value=1, got %d", sum.DataPoints[0].Value)
	}

	if got := outcomeOf(sum.DataPoints[0].Attributes.ToSlice()); got != "completed" {
		t.Errorf("outcome = %q, want completed", got)
	}
}

func TestMetrics_RecordsExecutions_ByErrorClass(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unclassified", errors.New("boom"), "permanent"},
		{"transient", executor.Transient(errors.New("ollama: connection reset")), "transient"},
		{"deadline", context.DeadlineExceeded, "transient"},
		{"explicit permanent", executor.Permanent(errors.New("empty transcript")), "permanent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, mp := setupTestMeter()
			m := mw.MetricsWithMeter(mp.Meter("test"))

			_ = m(context.Background(), newTestJob(), func(_ context.Context) error {
				return tt.err
			})

			rm := collectMetrics(t, reader)
			metric := findMetric(rm, "mediaflow.job.executions")
			if metric == nil {
				t.Fatal("mediaflow.job.executions metric not found")
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatal("no data points recorded")
			}
			if got := outcomeOf(sum.DataPoints[0].Attributes.ToSlice()); got != tt.want {
				t.Errorf("outcome = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetrics_CountsReruns(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		want     int64
	}{
		{"first run", 0, 0},
		{"after retry", 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, mp := setupTestMeter()
			m := mw.MetricsWithMeter(mp.Meter("test"))
			j := newTestJob()
			j.Attempts = tt.attempts

			_ = m(context.Background(), j, func(_ context.Context) error { return nil })

			var got int64
			if metric := findMetric(collectMetrics(t, reader), "mediaflow.job.reruns"); metric != nil {
				if sum, ok := metric.Data.(metricdata.Sum[int64]); ok {
					for _, dp := range sum.DataPoints {
						got += dp.Value
					}
				}
			}
			if got != tt.want {
				t.Errorf("reruns = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMetrics_Attributes(t *testing.T) {
	reader, mp := setupTestMeter()
	meter := mp.Meter("test")
	m := mw.MetricsWithMeter(meter)
	j := newTestJob()

	_ = m(context.Background(), j, func(_ context.Context) error {
		return nil
	})

	rm := collectMetrics(t, reader)

	// Check both instruments have correct attributes.
	for _, name := range []string{"mediaflow.job.duration", "mediaflow.job.executions"} {
		metric := findMetric(rm, name)
		if metric == nil {
			t.Errorf("%s metric not found", name)
			continue
		}

		var attrs []attribute.KeyValue
		switch data := metric.Data.(type) {
		case metricdata.Histogram[float64]:
			if len(data.DataPoints) > 0 {
				attrs = data.DataPoints[0].Attributes.ToSlice()
			}
		case metricdata.Sum[int64]:
			if len(data.DataPoints) > 0 {
				attrs = data.DataPoints[0].Attributes.ToSlice()
			}
		}

		attrMap := make(map[string]string, len(attrs))
		for _, a := range attrs {
			if a.Value.Type() == attribute.STRING {
				attrMap[string(a.Key)] = a.Value.AsString()
			}
		}

		expected := map[string]string{
			"job_type": "transcription",
			"outcome":  "completed",
		}
		for key, want := range expected {
			got, ok := attrMap[key]
			if !ok {
				t.Errorf("%s: missing attribute %q", name, key)
				continue
			}
			if got != want {
				t.Errorf("%s: attribute %q = %q, want %q", name, key, got, want)
			}
		}
	}
}

func TestMetrics_DefaultNoopSafe(t *testing.T) {
	// Calling Metrics() without a global provider should not panic.
	m := mw.Metrics()
	j := newTestJob()

	called := false
	err := m(context.Background(), j, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}
