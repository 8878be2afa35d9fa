package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/xraph/mediaflow"
)

// DefaultPublishTimeout bounds a single publish so a hung broker cannot
// stall the caller.
const DefaultPublishTimeout = 2 * time.Second

// Publisher wraps a Bus with best-effort semantics: failures are logged
// and counted, never returned.
type Publisher struct {
	bus      Bus
	logger   *slog.Logger
	timeout  time.Duration
	failures atomic.Int64
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublishTimeout sets the per-publish deadline.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.timeout = d }
}

// NewPublisher creates a publisher over bus. A nil bus behaves like Noop.
func NewPublisher(bus Bus, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	if bus == nil {
		bus = Noop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{bus: bus, logger: logger, timeout: DefaultPublishTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends evt and swallows any failure. It detaches from the
// caller's cancellation so an event for a committed store write still
// goes out when the request context ends.
func (p *Publisher) Publish(ctx context.Context, evt *Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	err := p.bus.Publish(pctx, evt)
	if err == nil {
		return
	}
	if !errors.Is(err, mediaflow.ErrBrokerUnavailable) {
		err = fmt.Errorf("%w: %w", mediaflow.ErrBrokerUnavailable, err)
	}
	p.failures.Add(1)
	p.logger.Warn("event publish failed",
		slog.String("topic", string(evt.Topic)),
		slog.String("job_id", evt.JobID.String()),
		slog.String("subject_id", evt.SubjectID.String()),
		slog.String("error", err.Error()),
	)
}

// Failures returns how many publishes have failed.
func (p *Publisher) Failures() int64 { return p.failures.Load() }

// Bus returns the underlying bus.
func (p *Publisher) Bus() Bus { return p.bus }
