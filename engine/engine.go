package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/backoff"
	"github.com/xraph/mediaflow/event"
	"github.com/xraph/mediaflow/executor"
	"github.com/xraph/mediaflow/ext"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	mw "github.com/xraph/mediaflow/middleware"
	"github.com/xraph/mediaflow/observability"
	"github.com/xraph/mediaflow/pipeline"
	"github.com/xraph/mediaflow/poller"
	"github.com/xraph/mediaflow/retry"
	"github.com/xraph/mediaflow/store"
	"github.com/xraph/mediaflow/subject"
	"github.com/xraph/mediaflow/worker"
)

// instrumentationName is the OTel scope used when providers are injected.
const instrumentationName = "github.com/xraph/mediaflow"

// Compile-time interface check.
var _ pipeline.Creator = (*Engine)(nil)

// Engine coordinates one worker process and exposes the producer API.
type Engine struct {
	store      store.Store
	bus        event.Bus
	publisher  *event.Publisher
	extensions *ext.Registry
	executors  *executor.Registry
	policies   retry.Policies
	config     mediaflow.Config
	types      []job.Type
	followUp   bool
	groupName  string
	logger     *slog.Logger

	userExts []ext.Extension
	mws      []mw.Middleware

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	pool   *worker.Pool
	poller atomic.Pointer[poller.Poller]

	mu        sync.Mutex
	started   bool
	stopped   bool
	subCancel context.CancelFunc
	subWG     sync.WaitGroup
	gauges    metric.Registration
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the store. Required.
func WithStore(s store.Store) Option {
	return func(eng *Engine) { eng.store = s }
}

// WithBus sets the event bus. Without one, events are not published and
// workers rely on polling alone. The engine closes the bus on Stop.
func WithBus(b event.Bus) Option {
	return func(eng *Engine) { eng.bus = b }
}

// WithConfig sets the worker configuration.
func WithConfig(cfg mediaflow.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the logger for the engine and its subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.userExts = append(eng.userExts, e) }
}

// WithMiddleware adds middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithRetryPolicies sets automatic retry policies per job type. Types
// without a policy are never retried automatically.
func WithRetryPolicies(p retry.Policies) Option {
	return func(eng *Engine) { eng.policies = p }
}

// WithTypes restricts the job types this process claims. By default it
// claims every type with a registered executor.
func WithTypes(types ...job.Type) Option {
	return func(eng *Engine) { eng.types = types }
}

// WithFollowUp controls whether a completed transcription creates its
// summarization job. Enabled by default.
func WithFollowUp(enabled bool) Option {
	return func(eng *Engine) { eng.followUp = enabled }
}

// WithGroupName sets the consumer group prefix for event subscriptions.
// Workers sharing a prefix compete for each event.
func WithGroupName(name string) Option {
	return func(eng *Engine) { eng.groupName = name }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware, the observability extension and the pool gauges. If not set,
// the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine. Register executors before calling Start.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		executors: executor.NewRegistry(),
		config:    mediaflow.DefaultConfig(),
		followUp:  true,
		groupName: "mediaflow",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.store == nil {
		return nil, mediaflow.ErrNoStore
	}
	if eng.bus == nil {
		eng.bus = event.Noop()
	}

	eng.publisher = event.NewPublisher(eng.bus, eng.logger)
	eng.extensions = ext.NewRegistry(eng.logger)

	// Registration order is notification order. The follow-up job must
	// exist before the completion event is published.
	eng.extensions.Register(observability.NewMetricsExtensionWithMeter(eng.meter("observability")))
	if eng.followUp {
		eng.extensions.Register(pipeline.NewFollowUp(eng, eng.logger))
	}
	for _, e := range eng.userExts {
		eng.extensions.Register(e)
	}
	eng.extensions.Register(&wakeExtension{eng: eng})
	eng.extensions.Register(event.NewEmitter(eng.publisher))

	// Default middleware stack: recover → tracing → metrics → logging.
	mws := []mw.Middleware{
		mw.Recover(eng.logger),
		mw.TracingWithTracer(eng.tracer()),
		mw.MetricsWithMeter(eng.meter("")),
		mw.Logging(eng.logger),
	}
	mws = append(mws, eng.mws...)

	runner := worker.NewRunner(eng.store, eng.executors, eng.extensions, eng.policies, eng.logger, mws...)
	depth := eng.config.QueueDepth
	if depth <= 0 {
		depth = eng.config.MaxWorkers
	}
	eng.pool = worker.NewPool(runner,
		worker.WithMaxWorkers(eng.config.MaxWorkers),
		worker.WithQueueDepth(depth),
		worker.WithLogger(eng.logger),
	)
	return eng, nil
}

func (eng *Engine) tracer() trace.Tracer {
	if eng.tracerProvider != nil {
		return eng.tracerProvider.Tracer(instrumentationName)
	}
	return otel.Tracer(instrumentationName)
}

func (eng *Engine) meter(sub string) metric.Meter {
	name := instrumentationName
	if sub != "" {
		name += "/" + sub
	}
	if eng.meterProvider != nil {
		return eng.meterProvider.Meter(name)
	}
	return otel.Meter(name)
}

// Register sets the executor for job type t.
func (eng *Engine) Register(t job.Type, e executor.Executor) error {
	return eng.executors.Register(t, e)
}

// ──────────────────────────────────────────────────
// Producer API
// ──────────────────────────────────────────────────

// Submit registers a video by source name and creates its transcription
// job. Events are published only after both are stored; a broker outage
// never fails the call.
func (eng *Engine) Submit(ctx context.Context, videoName string) (*subject.Subject, *job.Job, error) {
	if videoName == "" {
		return nil, nil, errors.New("mediaflow: video name is required")
	}
	video := subject.NewVideo(videoName)
	if err := eng.store.CreateSubject(ctx, video); err != nil {
		return nil, nil, fmt.Errorf("mediaflow: register video: %w", err)
	}
	j, err := eng.store.CreateJob(ctx, video.ID, job.TypeTranscription)
	if err != nil {
		return video, nil, fmt.Errorf("mediaflow: create transcription job: %w", err)
	}

	eng.logger.Info("video submitted",
		slog.String("subject_id", video.ID.String()),
		slog.String("job_id", j.ID.String()),
		slog.String("name", videoName),
	)
	eng.extensions.EmitSubjectCreated(ctx, video)
	eng.extensions.EmitJobCreated(ctx, j)
	return video, j, nil
}

// Create creates a pending job of type t for an existing subject.
func (eng *Engine) Create(ctx context.Context, subjectID id.SubjectID, t job.Type) (*job.Job, error) {
	j, err := eng.store.CreateJob(ctx, subjectID, t)
	if err != nil {
		return nil, err
	}
	eng.extensions.EmitJobCreated(ctx, j)
	return j, nil
}

// Retry resets a failed job to pending. It is the only way out of failed
// besides automatic retry.
func (eng *Engine) Retry(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.RetryJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	eng.logger.Info("job retried",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempts", j.Attempts),
	)
	eng.extensions.EmitJobRetried(ctx, j)
	return j, nil
}

// Fail marks an in_progress job failed on an operator's behalf, typically
// one whose worker died. The failure is permanent so no automatic retry
// follows; Retry it explicitly to run it again.
func (eng *Engine) Fail(ctx context.Context, jobID id.JobID, reason string) (*job.Job, error) {
	if reason == "" {
		reason = "failed by operator"
	}
	details := job.ErrorDetails{
		Class:    job.ClassPermanent,
		Message:  reason,
		Kind:     "operator",
		FailedAt: time.Now().UTC(),
	}
	j, err := eng.store.FailJob(ctx, jobID, details)
	if err != nil {
		return nil, err
	}
	eng.logger.Warn("job failed by operator",
		slog.String("job_id", j.ID.String()),
		slog.String("reason", reason),
	)
	eng.extensions.EmitJobFailed(ctx, j)
	return j, nil
}

// Stuck returns in_progress jobs older than the configured threshold.
func (eng *Engine) Stuck(ctx context.Context) ([]*job.Job, error) {
	after := eng.config.StuckAfter
	if after <= 0 {
		after = mediaflow.DefaultConfig().StuckAfter
	}
	return poller.FindStuck(ctx, eng.store, job.Types(), after, time.Now().UTC())
}

// ──────────────────────────────────────────────────
// Worker runtime
// ──────────────────────────────────────────────────

// Start launches the worker pool, the poller and event subscriptions. The
// poller claims immediately, so jobs left pending while no worker ran are
// picked up at once.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.stopped {
		return mediaflow.ErrPoolStopped
	}
	if eng.started {
		return nil
	}

	types, err := eng.workTypes()
	if err != nil {
		return err
	}

	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("mediaflow: start pool: %w", err)
	}

	gauges, err := observability.RegisterPoolGauges(eng.meter("observability"), eng.pool.Stats)
	if err != nil {
		eng.logger.Warn("pool gauges unavailable", slog.String("error", err.Error()))
	}
	eng.gauges = gauges

	p := poller.New(eng.store, eng.pool,
		poller.WithTypes(types...),
		poller.WithInterval(eng.config.PollInterval),
		poller.WithEventRate(eng.config.EventClaimRate, eng.config.EventClaimBurst),
		poller.WithStuckAfter(eng.config.StuckAfter),
		poller.WithExtensions(eng.extensions),
		poller.WithLogger(eng.logger),
	)
	eng.poller.Store(p)

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	eng.subCancel = cancel
	eng.subscribe(subCtx, p, types)

	if err := p.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("mediaflow: start poller: %w", err)
	}

	eng.started = true
	eng.logger.Info("mediaflow worker started",
		slog.String("worker_id", eng.pool.WorkerID().String()),
		slog.Any("types", types),
	)
	return nil
}

func (eng *Engine) workTypes() ([]job.Type, error) {
	registered := eng.executors.Types()
	if len(eng.types) == 0 {
		if len(registered) == 0 {
			return nil, errors.New("mediaflow: no executors registered")
		}
		return registered, nil
	}
	for _, t := range eng.types {
		if !slices.Contains(registered, t) {
			return nil, fmt.Errorf("%w: %s", mediaflow.ErrUnknownJobType, t)
		}
	}
	return eng.types, nil
}

// subscribe attaches the poller to each type's trigger topic. Subscriptions
// that fail, typically because the broker is down, are retried in the
// background; polling covers the gap.
func (eng *Engine) subscribe(ctx context.Context, p *poller.Poller, types []job.Type) {
	var g errgroup.Group
	var failedMu sync.Mutex
	var failed []job.Type
	for _, t := range types {
		g.Go(func() error {
			if err := eng.subscribeOne(ctx, p, t); err != nil {
				eng.logger.Warn("event subscription failed, relying on polling",
					slog.String("job_type", string(t)),
					slog.String("error", err.Error()),
				)
				failedMu.Lock()
				failed = append(failed, t)
				failedMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return errors

	for _, t := range failed {
		eng.subWG.Add(1)
		go eng.resubscribe(ctx, p, t)
	}
}

func (eng *Engine) subscribeOne(ctx context.Context, p *poller.Poller, t job.Type) error {
	topic := event.TriggerTopic(t)
	if topic == "" {
		return nil
	}
	return eng.bus.Subscribe(ctx, topic, eng.groupName+"-"+string(t), p.Handler(t))
}

func (eng *Engine) resubscribe(ctx context.Context, p *poller.Poller, t job.Type) {
	defer eng.subWG.Done()
	delays := backoff.NewExponential(time.Second, time.Minute)
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delays.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := eng.subscribeOne(ctx, p, t); err == nil {
			eng.logger.Info("event subscription established", slog.String("job_type", string(t)))
			p.Wake()
			return
		}
	}
}

// Stop shuts down in order: subscriptions and poller (no new claims), the
// pool (drains in-flight jobs until ctx expires), shutdown hooks, then the
// bus.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if eng.stopped {
		eng.mu.Unlock()
		return nil
	}
	eng.stopped = true
	eng.mu.Unlock()

	var errs []error
	if eng.subCancel != nil {
		eng.subCancel()
	}
	eng.subWG.Wait()

	if p := eng.poller.Load(); p != nil {
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := eng.pool.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if eng.gauges != nil {
		_ = eng.gauges.Unregister() //nolint:errcheck // best effort
	}

	eng.extensions.EmitShutdown(context.WithoutCancel(ctx))

	if err := eng.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("mediaflow: close bus: %w", err))
	}
	eng.logger.Info("mediaflow worker stopped")
	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Stats is a snapshot of the worker runtime.
type Stats struct {
	Pool            worker.Stats `json:"pool"`
	Poller          poller.Stats `json:"poller"`
	PublishFailures int64        `json:"publish_failures"`
}

// Stats returns the current runtime snapshot.
func (eng *Engine) Stats() Stats {
	s := Stats{Pool: eng.pool.Stats(), PublishFailures: eng.publisher.Failures()}
	if p := eng.poller.Load(); p != nil {
		s.Poller = p.Stats()
	}
	return s
}

// Store returns the store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Executors returns the executor registry.
func (eng *Engine) Executors() *executor.Registry { return eng.executors }

// Publisher returns the best-effort event publisher.
func (eng *Engine) Publisher() *event.Publisher { return eng.publisher }

// WorkerID returns this process's worker identity.
func (eng *Engine) WorkerID() id.WorkerID { return eng.pool.WorkerID() }

// ──────────────────────────────────────────────────
// Local wakeups
// ──────────────────────────────────────────────────

// wakeExtension forwards local job creation and retry to the poller once
// it exists, so same-process work starts without waiting for a tick.
type wakeExtension struct {
	eng *Engine
}

var (
	_ ext.JobCreated = (*wakeExtension)(nil)
	_ ext.JobRetried = (*wakeExtension)(nil)
)

func (w *wakeExtension) Name() string { return "poller-wake" }

func (w *wakeExtension) OnJobCreated(ctx context.Context, j *job.Job) error {
	if p := w.eng.poller.Load(); p != nil {
		return p.OnJobCreated(ctx, j)
	}
	return nil
}

func (w *wakeExtension) OnJobRetried(ctx context.Context, j *job.Job) error {
	if p := w.eng.poller.Load(); p != nil {
		return p.OnJobRetried(ctx, j)
	}
	return nil
}
