package observability

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/mediaflow/worker"
)

// RegisterPoolGauges exposes worker pool occupancy as observable gauges
// (mediaflow.pool.busy, mediaflow.pool.queued, mediaflow.pool.reserved,
// mediaflow.pool.pending_retries), read from stats at collection time.
func RegisterPoolGauges(meter metric.Meter, stats func() worker.Stats) (metric.Registration, error) {
	busy, err := meter.Int64ObservableGauge("mediaflow.pool.busy",
		metric.WithDescription("Jobs currently executing"))
	if err != nil {
		return nil, err
	}
	queued, err := meter.Int64ObservableGauge("mediaflow.pool.queued",
		metric.WithDescription("Claimed jobs waiting for a worker"))
	if err != nil {
		return nil, err
	}
	reserved, err := meter.Int64ObservableGauge("mediaflow.pool.reserved",
		metric.WithDescription("Occupied pool slots, including reservations"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64ObservableGauge("mediaflow.pool.pending_retries",
		metric.WithDescription("Automatic retries waiting for their delay"))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(busy, int64(s.Busy))
		o.ObserveInt64(queued, int64(s.Queued))
		o.ObserveInt64(reserved, int64(s.Reserved))
		o.ObserveInt64(retries, int64(s.PendingRetries))
		return nil
	}, busy, queued, reserved, retries)
}
