// Package redisbus implements event.Bus on Redis Streams. Each topic is a
// stream; each subscriber group is a consumer group. Messages are
// acknowledged with XACK only after the handler returns nil; messages
// left pending by a failed handler or a crashed consumer are reclaimed
// with XAUTOCLAIM once they have been idle for ClaimIdle.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	bus := redisbus.New(client)
//	defer bus.Close()
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/event"
	"github.com/xraph/mediaflow/id"
)

// Compile-time interface check.
var _ event.Bus = (*Bus)(nil)

const (
	payloadField = "payload"

	defaultBlock         = 2 * time.Second
	defaultClaimIdle     = 30 * time.Second
	defaultMaxLen        = 10_000
	defaultBatch         = 16
	defaultMaxDeliveries = 10
)

// Option configures the Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithConsumer sets this process's consumer name within each group.
func WithConsumer(name string) Option {
	return func(b *Bus) { b.consumer = name }
}

// WithBlock sets how long XREADGROUP waits for new messages.
func WithBlock(d time.Duration) Option {
	return func(b *Bus) { b.block = d }
}

// WithClaimIdle sets how long a pending message must be idle before
// another consumer reclaims it.
func WithClaimIdle(d time.Duration) Option {
	return func(b *Bus) { b.claimIdle = d }
}

// WithMaxLen caps each stream's length (approximate trimming).
func WithMaxLen(n int64) Option {
	return func(b *Bus) { b.maxLen = n }
}

// WithMaxDeliveries sets how many deliveries a message gets before it is
// acknowledged and dropped.
func WithMaxDeliveries(n int64) Option {
	return func(b *Bus) { b.maxDeliveries = n }
}

// Bus is a Redis Streams event bus.
type Bus struct {
	client goredis.Cmdable
	owned  goredis.UniversalClient
	logger *slog.Logger

	consumer      string
	block         time.Duration
	claimIdle     time.Duration
	maxLen        int64
	maxDeliveries int64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New creates a bus over client. The caller owns the client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		client:        client,
		logger:        slog.Default(),
		consumer:      id.NewWorkerID().String(),
		block:         defaultBlock,
		claimIdle:     defaultClaimIdle,
		maxLen:        defaultMaxLen,
		maxDeliveries: defaultMaxDeliveries,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Dial parses a redis:// URL and returns a bus that owns its client.
func Dial(url string, opts ...Option) (*Bus, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("mediaflow/redisbus: parse url: %w", err)
	}
	client := goredis.NewClient(o)
	b := New(client, opts...)
	b.owned = client
	return b, nil
}

// Ping verifies the Redis connection is alive.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish appends evt to its topic stream.
func (b *Bus) Publish(ctx context.Context, evt *event.Event) error {
	data, err := evt.Marshal()
	if err != nil {
		return fmt.Errorf("mediaflow/redisbus: publish: %w", err)
	}
	err = b.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey(evt.Topic),
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: data},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: redisbus: xadd %s: %w", mediaflow.ErrBrokerUnavailable, evt.Topic, err)
	}
	return nil
}

// Subscribe creates the consumer group if needed and starts consuming.
func (b *Bus) Subscribe(ctx context.Context, topic event.Topic, group string, handler event.Handler) error {
	if b.ctx.Err() != nil {
		return fmt.Errorf("%w: redisbus: closed", mediaflow.ErrBrokerUnavailable)
	}
	stream := streamKey(topic)
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: redisbus: create group %s/%s: %w",
			mediaflow.ErrBrokerUnavailable, topic, group, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.ctx, cancel)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer stop()
		defer cancel()
		b.consume(subCtx, stream, group, handler)
	}()
	return nil
}

func (b *Bus) consume(ctx context.Context, stream, group string, h event.Handler) {
	log := b.logger.With(slog.String("stream", stream), slog.String("group", group))
	lastClaim := time.Time{}

	for ctx.Err() == nil {
		if time.Since(lastClaim) >= b.claimIdle {
			b.reclaim(ctx, log, stream, group, h)
			lastClaim = time.Now()
		}

		res, err := b.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    group,
			Consumer: b.consumer,
			Streams:  []string{stream, ">"},
			Count:    defaultBatch,
			Block:    b.block,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("redisbus: read failed", slog.String("error", err.Error()))
			sleepCtx(ctx, time.Second)
			continue
		}
		for _, s := range res {
			for _, msg := range s.Messages {
				b.deliver(ctx, log, stream, group, msg, h)
			}
		}
	}
}

// reclaim takes over messages another consumer (or this one) left pending
// for longer than claimIdle.
func (b *Bus) reclaim(ctx context.Context, log *slog.Logger, stream, group string, h event.Handler) {
	start := "0-0"
	for ctx.Err() == nil {
		msgs, next, err := b.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: b.consumer,
			MinIdle:  b.claimIdle,
			Start:    start,
			Count:    defaultBatch,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("redisbus: autoclaim failed", slog.String("error", err.Error()))
			}
			return
		}
		for _, msg := range msgs {
			if b.exhausted(ctx, stream, group, msg.ID) {
				log.Warn("redisbus: dropping message after max deliveries", slog.String("message_id", msg.ID))
				b.ack(ctx, log, stream, group, msg.ID)
				continue
			}
			b.deliver(ctx, log, stream, group, msg, h)
		}
		if next == "0-0" || len(msgs) == 0 {
			return
		}
		start = next
	}
}

// exhausted reports whether a pending message has used up its deliveries.
func (b *Bus) exhausted(ctx context.Context, stream, group, msgID string) bool {
	pending, err := b.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  msgID,
		End:    msgID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return false
	}
	return pending[0].RetryCount > b.maxDeliveries
}

func (b *Bus) deliver(ctx context.Context, log *slog.Logger, stream, group string, msg goredis.XMessage, h event.Handler) {
	raw, _ := msg.Values[payloadField].(string) //nolint:errcheck // missing payload is handled below
	evt, err := event.Unmarshal([]byte(raw))
	if err != nil {
		// Undecodable messages can never succeed.
		log.Warn("redisbus: dropping malformed message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		b.ack(ctx, log, stream, group, msg.ID)
		return
	}

	if err := event.SafeHandle(ctx, h, evt); err != nil {
		log.Warn("redisbus: handler failed, leaving message pending",
			slog.String("message_id", msg.ID),
			slog.String("event_id", evt.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	b.ack(ctx, log, stream, group, msg.ID)
}

func (b *Bus) ack(ctx context.Context, log *slog.Logger, stream, group, msgID string) {
	if err := b.client.XAck(context.WithoutCancel(ctx), stream, group, msgID).Err(); err != nil {
		log.Warn("redisbus: ack failed", slog.String("message_id", msgID), slog.String("error", err.Error()))
	}
}

// Close stops all consumers, waits for running handlers and closes the
// client if the bus created it.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		b.wg.Wait()
		if b.owned != nil {
			if err := b.owned.Close(); err != nil {
				b.closeErr = fmt.Errorf("mediaflow/redisbus: close: %w", err)
			}
		}
	})
	return b.closeErr
}

// streamKey returns the stream for a topic: mediaflow:events:{topic}
func streamKey(topic event.Topic) string { return "mediaflow:events:" + string(topic) }

// sleepCtx sleeps for d, or returns early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
