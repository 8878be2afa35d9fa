package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/backoff"
)

// Compile-time interface check.
var _ Bus = (*LocalBus)(nil)

// DefaultBufferSize is the default per-group delivery buffer.
const DefaultBufferSize = 256

// DefaultMaxRedeliveries bounds how often a failed delivery is retried.
const DefaultMaxRedeliveries = 5

// LocalBus is an in-process broker. Each (topic, group) pair owns a
// buffered channel; every consumer in a group reads from it, so a message
// reaches exactly one consumer of each group. A delivery whose handler
// fails is redelivered after a backoff delay up to MaxRedeliveries times.
type LocalBus struct {
	mu     sync.RWMutex
	groups map[Topic]map[string]*group

	logger          *slog.Logger
	bufferSize      int
	maxRedeliveries int
	redelivery      backoff.Strategy

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup

	totalPublished   atomic.Int64
	totalDropped     atomic.Int64
	totalRedelivered atomic.Int64
}

type group struct {
	name string
	ch   chan delivery
}

type delivery struct {
	evt     *Event
	attempt int
}

// LocalOption configures a LocalBus.
type LocalOption func(*LocalBus)

// WithBufferSize sets the per-group delivery buffer size.
func WithBufferSize(size int) LocalOption {
	return func(b *LocalBus) { b.bufferSize = size }
}

// WithMaxRedeliveries sets how many times a failed delivery is retried.
func WithMaxRedeliveries(n int) LocalOption {
	return func(b *LocalBus) { b.maxRedeliveries = n }
}

// WithRedeliveryBackoff sets the delay strategy between redeliveries.
func WithRedeliveryBackoff(s backoff.Strategy) LocalOption {
	return func(b *LocalBus) { b.redelivery = s }
}

// WithLogger sets the logger for delivery failures.
func WithLogger(l *slog.Logger) LocalOption {
	return func(b *LocalBus) { b.logger = l }
}

// NewLocalBus creates an in-process bus.
func NewLocalBus(opts ...LocalOption) *LocalBus {
	b := &LocalBus{
		groups:          make(map[Topic]map[string]*group),
		logger:          slog.Default(),
		bufferSize:      DefaultBufferSize,
		maxRedeliveries: DefaultMaxRedeliveries,
		redelivery:      backoff.NewExponential(50*time.Millisecond, 2*time.Second),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish enqueues evt for every group subscribed to its topic. A topic
// with no groups drops the event. A full group buffer is reported as
// ErrBrokerUnavailable.
func (b *LocalBus) Publish(_ context.Context, evt *Event) error {
	if b.closed.Load() {
		return fmt.Errorf("%w: bus closed", mediaflow.ErrBrokerUnavailable)
	}

	b.mu.RLock()
	targets := make([]*group, 0, len(b.groups[evt.Topic]))
	for _, g := range b.groups[evt.Topic] {
		targets = append(targets, g)
	}
	b.mu.RUnlock()

	var full []string
	for _, g := range targets {
		select {
		case g.ch <- delivery{evt: evt}:
			b.totalPublished.Add(1)
		default:
			b.totalDropped.Add(1)
			full = append(full, g.name)
		}
	}
	if len(full) > 0 {
		return fmt.Errorf("%w: topic %s: buffer full for groups %v",
			mediaflow.ErrBrokerUnavailable, evt.Topic, full)
	}
	return nil
}

// Subscribe starts a consumer for topic within group.
func (b *LocalBus) Subscribe(ctx context.Context, topic Topic, groupName string, handler Handler) error {
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return fmt.Errorf("%w: bus closed", mediaflow.ErrBrokerUnavailable)
	}
	subs, ok := b.groups[topic]
	if !ok {
		subs = make(map[string]*group)
		b.groups[topic] = subs
	}
	g, ok := subs[groupName]
	if !ok {
		g = &group{name: groupName, ch: make(chan delivery, b.bufferSize)}
		subs[groupName] = g
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go b.consume(ctx, topic, g, handler)
	return nil
}

func (b *LocalBus) consume(ctx context.Context, topic Topic, g *group, h Handler) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case d := <-g.ch:
			if err := SafeHandle(ctx, h, d.evt); err != nil {
				b.retry(topic, g, d, err)
			}
		}
	}
}

// retry schedules redelivery of a failed message to the same group.
func (b *LocalBus) retry(topic Topic, g *group, d delivery, cause error) {
	if d.attempt >= b.maxRedeliveries {
		b.logger.Warn("event delivery abandoned",
			slog.String("topic", string(topic)),
			slog.String("group", g.name),
			slog.String("event_id", d.evt.ID.String()),
			slog.Int("attempts", d.attempt+1),
			slog.String("error", cause.Error()),
		)
		// Counted after the log line so Dropped never runs ahead of it.
		b.totalDropped.Add(1)
		return
	}

	next := delivery{evt: d.evt, attempt: d.attempt + 1}
	time.AfterFunc(b.redelivery.Delay(next.attempt), func() {
		if b.closed.Load() {
			return
		}
		select {
		case g.ch <- next:
			b.totalRedelivered.Add(1)
		default:
			b.totalDropped.Add(1)
		}
	})
}

// Close stops every consumer and waits for in-flight handlers.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed.CompareAndSwap(false, true) {
		close(b.done)
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

// LocalStats contains delivery counters.
type LocalStats struct {
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
	Redelivered int64 `json:"redelivered"`
}

// Stats returns delivery counters.
func (b *LocalBus) Stats() LocalStats {
	return LocalStats{
		Published:   b.totalPublished.Load(),
		Dropped:     b.totalDropped.Load(),
		Redelivered: b.totalRedelivered.Load(),
	}
}
