package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/event"
	"github.com/xraph/mediaflow/executor"
	"github.com/xraph/mediaflow/ext"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension  = (*Poller)(nil)
	_ ext.JobCreated = (*Poller)(nil)
	_ ext.JobRetried = (*Poller)(nil)
)

// storeTimeout bounds each store call. Claims run detached from the
// loop's cancellation so a claim that commits is always dispatched.
const storeTimeout = 10 * time.Second

// Dispatcher is the part of the worker pool the poller drives.
type Dispatcher interface {
	Reserve(ctx context.Context) error
	TryReserve() bool
	Release()
	Submit(j *job.Job) error
	WorkerID() id.WorkerID
}

// Poller claims jobs of its configured types and hands them to a
// Dispatcher.
type Poller struct {
	store      job.Store
	pool       Dispatcher
	extensions *ext.Registry
	logger     *slog.Logger

	types      []job.Type
	interval   time.Duration
	limiter    *rate.Limiter
	stuckAfter time.Duration
	now        func() time.Time

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	running  bool
	stopped  bool
	inflight sync.WaitGroup

	next      atomic.Uint64
	lastStuck time.Time

	cycles      atomic.Int64
	claims      atomic.Int64
	eventClaims atomic.Int64
	stuck       atomic.Int64
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the time between polling cycles.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithTypes sets the job types this process claims.
func WithTypes(types ...job.Type) Option {
	return func(p *Poller) { p.types = types }
}

// WithEventRate limits event-triggered claim attempts to limit per second
// with the given burst. Limited attempts still wake the loop.
func WithEventRate(limit float64, burst int) Option {
	return func(p *Poller) {
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// WithStuckAfter sets how long a job may stay in_progress before it is
// reported as stuck. Zero disables reporting.
func WithStuckAfter(d time.Duration) Option {
	return func(p *Poller) { p.stuckAfter = d }
}

// WithExtensions sets the registry notified of claims.
func WithExtensions(r *ext.Registry) Option {
	return func(p *Poller) { p.extensions = r }
}

// WithLogger sets the poller logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithClock overrides the time source used for stuck detection.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New creates a poller. With no types configured it claims every stage.
func New(store job.Store, pool Dispatcher, opts ...Option) *Poller {
	p := &Poller{
		store:      store,
		pool:       pool,
		logger:     slog.Default(),
		types:      job.Types(),
		interval:   5 * time.Second,
		limiter:    rate.NewLimiter(10, 5),
		stuckAfter: time.Hour,
		now:        func() time.Time { return time.Now().UTC() },
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.extensions == nil {
		p.extensions = ext.NewRegistry(p.logger)
	}
	return p
}

// Name implements ext.Extension.
func (p *Poller) Name() string { return "poller" }

// Types returns the job types this poller claims.
func (p *Poller) Types() []job.Type { return slices.Clone(p.types) }

// Start runs one claim cycle immediately, then polls on the interval
// until Stop or ctx cancellation. It returns once the loop is launched.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return mediaflow.ErrPoolStopped
	}
	if p.running {
		return nil
	}
	p.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("poller starting",
		slog.String("worker_id", p.pool.WorkerID().String()),
		slog.Any("types", p.types),
		slog.Duration("interval", p.interval),
	)
	go p.loop(loopCtx)
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	p.cycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reportStuck(ctx)
		case <-p.wake:
		}
		p.cycle(ctx)
	}
}

// cycle claims until nothing is pending or the pool is saturated and the
// loop is cancelled.
func (p *Poller) cycle(ctx context.Context) {
	p.cycles.Add(1)
	for ctx.Err() == nil {
		if err := p.pool.Reserve(ctx); err != nil {
			return
		}
		j, err := p.claimAny(ctx)
		if err != nil {
			p.pool.Release()
			p.logger.Error("claim failed, waiting for next tick", slog.String("error", err.Error()))
			return
		}
		if j == nil {
			p.pool.Release()
			return
		}
		p.claims.Add(1)
		if !p.dispatch(j) {
			return
		}
	}
}

// claimAny tries each type once, rotating the starting type so one busy
// stage cannot starve the other.
func (p *Poller) claimAny(ctx context.Context) (*job.Job, error) {
	start := int(p.next.Add(1))
	for i := range p.types {
		t := p.types[(start+i)%len(p.types)]
		j, err := p.claim(ctx, t)
		if err != nil || j != nil {
			return j, err
		}
	}
	return nil, nil
}

func (p *Poller) claim(ctx context.Context, t job.Type) (*job.Job, error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	j, err := p.store.ClaimNext(sctx, t, p.pool.WorkerID())
	if err != nil {
		return nil, fmt.Errorf("poller: claim %s: %w", t, err)
	}
	return j, nil
}

// dispatch hands a claimed job to the pool. The caller's reservation
// moves with the job. If the pool has stopped, the job is failed as
// transient so it is not left in_progress, and dispatch reports false.
func (p *Poller) dispatch(j *job.Job) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	p.extensions.EmitJobClaimed(ctx, j)
	err := p.pool.Submit(j)
	if err == nil {
		return true
	}
	p.pool.Release()

	p.logger.Warn("claimed job could not be dispatched",
		slog.String("job_id", j.ID.String()),
		slog.String("error", err.Error()),
	)
	failed, ferr := p.store.FailJob(ctx, j.ID, executor.Details(executor.Transient(err), p.now()))
	if ferr != nil {
		p.logger.Error("failed to release undispatched job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", ferr.Error()),
		)
		return false
	}
	p.extensions.EmitJobFailed(ctx, failed)
	return false
}

// Wake asks the loop to run a cycle now. Wakeups coalesce.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// TryClaim is the event-handler path: one rate-limited, non-blocking
// claim attempt for type t. It reports whether a job was dispatched. When
// it cannot claim (rate limited or pool saturated) it wakes the loop,
// which catches up as slots free.
func (p *Poller) TryClaim(ctx context.Context, t job.Type) (bool, error) {
	p.mu.RLock()
	if p.stopped || !slices.Contains(p.types, t) {
		p.mu.RUnlock()
		return false, nil
	}
	p.inflight.Add(1)
	p.mu.RUnlock()
	defer p.inflight.Done()

	if !p.limiter.Allow() || !p.pool.TryReserve() {
		p.Wake()
		return false, nil
	}
	j, err := p.claim(ctx, t)
	if err != nil || j == nil {
		p.pool.Release()
		return false, err
	}
	p.eventClaims.Add(1)
	return p.dispatch(j), nil
}

// Handler returns the event handler that claims work of type t. A store
// error is returned so the bus redelivers; claiming is idempotent because
// only pending jobs can be claimed.
func (p *Poller) Handler(t job.Type) event.Handler {
	return func(ctx context.Context, _ *event.Event) error {
		_, err := p.TryClaim(ctx, t)
		return err
	}
}

// OnJobCreated wakes the loop for locally created work.
func (p *Poller) OnJobCreated(_ context.Context, j *job.Job) error {
	if slices.Contains(p.types, j.Type) {
		p.Wake()
	}
	return nil
}

// OnJobRetried wakes the loop for locally retried work.
func (p *Poller) OnJobRetried(_ context.Context, j *job.Job) error {
	if slices.Contains(p.types, j.Type) {
		p.Wake()
	}
	return nil
}

// Stuck returns in_progress jobs of this poller's types that started more
// than stuckAfter ago. Nothing times them out; an operator decides.
func (p *Poller) Stuck(ctx context.Context) ([]*job.Job, error) {
	if p.stuckAfter <= 0 {
		return nil, nil
	}
	return FindStuck(ctx, p.store, p.types, p.stuckAfter, p.now())
}

// FindStuck returns in_progress jobs of the given types whose StartedAt is
// older than now-after.
func FindStuck(ctx context.Context, store job.Store, types []job.Type, after time.Duration, now time.Time) ([]*job.Job, error) {
	cutoff := now.Add(-after)
	var out []*job.Job
	for _, t := range types {
		jobs, err := store.ListJobs(ctx, job.ListOpts{Type: t, Status: job.StatusInProgress})
		if err != nil {
			return nil, fmt.Errorf("poller: list in_progress %s: %w", t, err)
		}
		for _, j := range jobs {
			if j.StartedAt != nil && j.StartedAt.Before(cutoff) {
				out = append(out, j)
			}
		}
	}
	return out, nil
}

// reportStuck logs stuck jobs at most once per stuckAfter/4.
func (p *Poller) reportStuck(ctx context.Context) {
	if p.stuckAfter <= 0 || p.now().Sub(p.lastStuck) < p.stuckAfter/4 {
		return
	}
	p.lastStuck = p.now()

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	jobs, err := p.Stuck(sctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("stuck job check failed", slog.String("error", err.Error()))
		}
		return
	}
	p.stuck.Store(int64(len(jobs)))
	for _, j := range jobs {
		p.logger.Warn("job appears stuck in progress",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("worker_id", j.WorkerID.String()),
			slog.Time("started_at", *j.StartedAt),
		)
	}
}

// Stop ends the loop and waits for it and any in-flight event claims.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	wasRunning := p.running
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		if wasRunning {
			<-p.done
		}
		p.inflight.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("poller: stop: %w", ctx.Err())
	}
}

// Stats is a snapshot of poller counters.
type Stats struct {
	Cycles      int64 `json:"cycles"`
	Claims      int64 `json:"claims"`
	EventClaims int64 `json:"event_claims"`
	Stuck       int64 `json:"stuck"`
}

// Stats returns poller counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:      p.cycles.Load(),
		Claims:      p.claims.Load(),
		EventClaims: p.eventClaims.Load(),
		Stuck:       p.stuck.Load(),
	}
}
