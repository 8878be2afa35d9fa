package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/executor"
	"github.com/xraph/mediaflow/ext"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/middleware"
	"github.com/xraph/mediaflow/retry"
)

// storeTimeout bounds each store write made after execution.
const storeTimeout = 30 * time.Second

// Runner executes one claimed job through middleware and its executor,
// then records the outcome. It never lets an executor error or panic
// escape: every run ends with CompleteJob or FailJob.
type Runner struct {
	store      job.Store
	executors  *executor.Registry
	extensions *ext.Registry
	policies   retry.Policies
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time

	timersMu sync.Mutex
	timers   map[string]*time.Timer
	stopped  bool
}

// NewRunner creates a Runner with the given dependencies.
func NewRunner(
	store job.Store,
	executors *executor.Registry,
	extensions *ext.Registry,
	policies retry.Policies,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	return &Runner{
		store:      store,
		executors:  executors,
		extensions: extensions,
		policies:   policies,
		mw:         middleware.Chain(mws...),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		timers:     make(map[string]*time.Timer),
	}
}

// Run executes j, which must already be claimed (in_progress).
func (r *Runner) Run(ctx context.Context, j *job.Job) {
	exec, err := r.executors.Get(j.Type)
	if err != nil {
		r.fail(j, executor.Permanent(err))
		return
	}

	var res job.Result
	terminal := func(ctx context.Context) error {
		out, execErr := exec.Execute(ctx, j)
		res = out
		return execErr
	}

	if err := r.mw(ctx, j, terminal); err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, mediaflow.ErrPoolStopped) {
			// Interrupted by shutdown, not by the media or the upstream.
			err = executor.Transient(fmt.Errorf("%w: %w", cause, err))
		}
		r.fail(j, err)
		return
	}
	r.complete(j, res)
}

// complete records success. A result the store rejects fails the job
// permanently instead.
func (r *Runner) complete(j *job.Job, res job.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	done, err := r.store.CompleteJob(ctx, j.ID, res)
	switch {
	case err == nil:
		r.extensions.EmitJobCompleted(ctx, done)
	case errors.Is(err, mediaflow.ErrInvalidState), errors.Is(err, mediaflow.ErrJobNotFound):
		// Someone else moved the job (operator fail); their write stands.
		r.logger.Warn("job changed while running, result discarded",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	default:
		r.logger.Error("failed to record job completion",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("error", err.Error()),
		)
		r.fail(j, executor.Permanent(fmt.Errorf("record result: %w", err)))
	}
}

// fail records the failure and applies the retry policy.
func (r *Runner) fail(j *job.Job, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	details := executor.Details(cause, r.now())
	failed, err := r.store.FailJob(ctx, j.ID, details)
	if err != nil {
		// The job stays in_progress and shows up as stuck.
		r.logger.Error("failed to record job failure",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
		return
	}
	r.extensions.EmitJobFailed(ctx, failed)
	r.scheduleRetry(failed)
}

// scheduleRetry arms a timer that resets j to pending if its type's
// policy allows it.
func (r *Runner) scheduleRetry(j *job.Job) {
	delay, ok := r.policies.For(j.Type).Decide(j)
	if !ok {
		return
	}

	key := j.ID.String()
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	if r.stopped {
		return
	}
	r.logger.Info("job scheduled for automatic retry",
		slog.String("job_id", key),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempt", j.Attempts+2),
		slog.Int("max_attempts", r.policies.For(j.Type).MaxAttempts),
		slog.Duration("delay", delay),
	)
	r.timers[key] = time.AfterFunc(delay, func() {
		r.timersMu.Lock()
		delete(r.timers, key)
		r.timersMu.Unlock()
		r.retry(j.ID)
	})
}

func (r *Runner) retry(jobID id.JobID) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	j, err := r.store.RetryJob(ctx, jobID)
	if err != nil {
		// Conflict: a newer job for the subject exists. InvalidState: an
		// operator already retried it.
		r.logger.Warn("automatic retry skipped",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	r.extensions.EmitJobRetried(ctx, j)
}

// PendingRetries returns how many automatic retries are armed.
func (r *Runner) PendingRetries() int {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	return len(r.timers)
}

// stopRetries disarms all retry timers. Failed jobs stay failed; the
// next operator or process retries them.
func (r *Runner) stopRetries() {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	r.stopped = true
	for key, t := range r.timers {
		t.Stop()
		delete(r.timers, key)
	}
}
