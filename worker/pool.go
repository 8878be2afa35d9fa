// Package worker provides the bounded execution pool. A claim may only be
// attempted while holding a reservation, so the number of claimed but
// unfinished jobs in a process never exceeds MaxWorkers + QueueDepth.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
)

// Pool runs claimed jobs on MaxWorkers goroutines fed by a bounded queue.
//
// Callers follow the reservation protocol:
//
//	if err := pool.Reserve(ctx); err != nil { ... }
//	j, err := store.ClaimNext(ctx, t, pool.WorkerID())
//	if j == nil || err != nil { pool.Release(); ... }
//	pool.Submit(j)
type Pool struct {
	runner     *Runner
	workerID   id.WorkerID
	maxWorkers int
	queueDepth int
	logger     *slog.Logger

	// slots holds one token per reservation or unfinished job.
	slots chan struct{}
	queue chan *job.Job

	mu      sync.RWMutex
	running bool
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	activeMu   sync.Mutex
	activeJobs map[string]context.CancelCauseFunc

	busy      atomic.Int64
	completed atomic.Int64
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithMaxWorkers sets the number of concurrent execution slots.
func WithMaxWorkers(n int) PoolOption {
	return func(p *Pool) { p.maxWorkers = n }
}

// WithQueueDepth sets how many claimed jobs may wait for a free slot.
func WithQueueDepth(n int) PoolOption {
	return func(p *Pool) { p.queueDepth = n }
}

// WithWorkerID sets the identity recorded on claimed jobs.
func WithWorkerID(wid id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = wid }
}

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool around runner.
func NewPool(runner *Runner, opts ...PoolOption) *Pool {
	p := &Pool{
		runner:     runner,
		workerID:   id.NewWorkerID(),
		maxWorkers: 2,
		queueDepth: -1,
		logger:     slog.Default(),
		stopCh:     make(chan struct{}),
		activeJobs: make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxWorkers < 1 {
		p.maxWorkers = 1
	}
	if p.queueDepth < 0 {
		p.queueDepth = p.maxWorkers
	}
	capacity := p.maxWorkers + p.queueDepth
	p.slots = make(chan struct{}, capacity)
	p.queue = make(chan *job.Job, capacity)
	return p
}

// WorkerID returns the pool's worker identity.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Capacity returns MaxWorkers + QueueDepth.
func (p *Pool) Capacity() int { return cap(p.slots) }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return mediaflow.ErrPoolStopped
	}
	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("max_workers", p.maxWorkers),
		slog.Int("queue_depth", p.queueDepth),
	)

	for range p.maxWorkers {
		p.wg.Add(1)
		go p.workLoop()
	}
	return nil
}

// Reserve blocks until a slot is free, ctx is done or the pool stops.
func (p *Pool) Reserve(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return mediaflow.ErrPoolStopped
	default:
	}
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return mediaflow.ErrPoolStopped
	}
}

// TryReserve takes a slot if one is free without blocking.
func (p *Pool) TryReserve() bool {
	select {
	case <-p.stopCh:
		return false
	default:
	}
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns an unused reservation.
func (p *Pool) Release() {
	<-p.slots
}

// Submit hands a claimed job to the workers. The caller must hold a
// reservation, which the pool releases when the job finishes. Submit never
// blocks. After Stop it returns ErrPoolStopped and keeps the reservation
// with the caller.
func (p *Pool) Submit(j *job.Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("%w: job %s not dispatched", mediaflow.ErrPoolStopped, j.ID)
	}
	p.queue <- j
	return nil
}

// Stop rejects new reservations, lets workers finish queued and running
// jobs, and waits. If ctx expires first, running executors are cancelled
// and Stop waits for them to return. Their jobs fail as transient so a
// retry policy or operator can pick them up again.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	close(p.queue)
	if !p.running {
		// Drain anything submitted before Start.
		for range p.maxWorkers {
			p.wg.Add(1)
			go p.workLoop()
		}
	}
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	p.runner.stopRetries()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}
	return nil
}

func (p *Pool) workLoop() {
	defer p.wg.Done()
	for j := range p.queue {
		p.run(j)
	}
}

func (p *Pool) run(j *job.Job) {
	defer func() { <-p.slots }()

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	p.trackJob(j.ID.String(), cancel)
	defer p.untrackJob(j.ID.String())

	p.busy.Add(1)
	defer p.busy.Add(-1)

	p.runner.Run(ctx, j)
	p.completed.Add(1)
}

func (p *Pool) trackJob(jobID string, cancel context.CancelCauseFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel(mediaflow.ErrPoolStopped)
	}
}

// Stats is a point-in-time view of pool occupancy.
type Stats struct {
	MaxWorkers     int   `json:"max_workers"`
	QueueDepth     int   `json:"queue_depth"`
	Busy           int   `json:"busy"`
	Queued         int   `json:"queued"`
	Reserved       int   `json:"reserved"`
	Finished       int64 `json:"finished"`
	PendingRetries int   `json:"pending_retries"`
}

// Stats returns current occupancy.
func (p *Pool) Stats() Stats {
	return Stats{
		MaxWorkers:     p.maxWorkers,
		QueueDepth:     p.queueDepth,
		Busy:           int(p.busy.Load()),
		Queued:         len(p.queue),
		Reserved:       len(p.slots),
		Finished:       p.completed.Load(),
		PendingRetries: p.runner.PendingRetries(),
	}
}
