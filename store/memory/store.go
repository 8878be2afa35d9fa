// Package memory provides an in-memory implementation of store.Store.
// It is safe for concurrent use within a single process and is intended
// for tests and single-process development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/store"
	"github.com/xraph/mediaflow/subject"
)

var _ store.Store = (*Store)(nil)

type activeKey struct {
	subject string
	typ     job.Type
}

// Store is a fully in-memory store. One mutex guards every map, so each
// transition is atomic with respect to every other.
type Store struct {
	mu sync.RWMutex

	jobs     map[string]*job.Job
	subjects map[string]*subject.Subject
	// active indexes pending and in_progress jobs by (subject, type).
	active map[activeKey]string

	now func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the time source. Tests use it to control ordering.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:     make(map[string]*job.Job),
		subjects: make(map[string]*subject.Subject),
		active:   make(map[activeKey]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Subject Store
// ──────────────────────────────────────────────────

// CreateSubject stores s. Existing IDs are left untouched.
func (m *Store) CreateSubject(_ context.Context, s *subject.Subject) error {
	if subject.KindOf(s.ID) == "" {
		return fmt.Errorf("mediaflow/memory: create subject: %q is not a subject id", s.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.ID.String()
	if _, exists := m.subjects[key]; exists {
		return nil
	}
	cp := *s
	m.subjects[key] = &cp
	return nil
}

// GetSubject retrieves a subject by ID.
func (m *Store) GetSubject(_ context.Context, subjectID id.SubjectID) (*subject.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subjects[subjectID.String()]
	if !ok {
		return nil, mediaflow.ErrSubjectNotFound
	}
	cp := *s
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob inserts a pending job after checking the subject and the
// active-job index.
func (m *Store) CreateJob(_ context.Context, subjectID id.SubjectID, t job.Type) (*job.Job, error) {
	if err := subject.Accepts(subjectID, t); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subjects[subjectID.String()]; !ok {
		return nil, mediaflow.ErrSubjectNotFound
	}
	key := activeKey{subject: subjectID.String(), typ: t}
	if _, busy := m.active[key]; busy {
		return nil, mediaflow.ErrConflict
	}

	j := job.New(subjectID, t)
	now := m.now()
	j.CreatedAt, j.UpdatedAt = now, now

	m.jobs[j.ID.String()] = j
	m.active[key] = j.ID.String()
	return copyJob(j), nil
}

// ClaimNext moves the oldest pending job of type t to in_progress.
func (m *Store) ClaimNext(_ context.Context, t job.Type, workerID id.WorkerID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *job.Job
	for _, j := range m.jobs {
		if j.Type != t || j.Status != job.StatusPending {
			continue
		}
		if next == nil || before(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, nil //nolint:nilnil // nothing claimable
	}

	if err := next.Claim(workerID, m.now()); err != nil {
		return nil, err
	}
	return copyJob(next), nil
}

// CompleteJob moves an in_progress job to completed.
func (m *Store) CompleteJob(_ context.Context, jobID id.JobID, r job.Result) (*job.Job, error) {
	return m.transition(jobID, func(j *job.Job, now time.Time) error {
		return j.Complete(r, now)
	})
}

// FailJob moves an in_progress job to failed.
func (m *Store) FailJob(_ context.Context, jobID id.JobID, details job.ErrorDetails) (*job.Job, error) {
	return m.transition(jobID, func(j *job.Job, now time.Time) error {
		return j.Fail(details, now)
	})
}

// RetryJob moves a failed job back to pending. A newer active job for the
// same subject and type blocks the retry with ErrConflict.
func (m *Store) RetryJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, mediaflow.ErrJobNotFound
	}
	if j.Status != job.StatusFailed {
		return nil, mediaflow.ErrInvalidState
	}
	key := activeKey{subject: j.SubjectID.String(), typ: j.Type}
	if _, busy := m.active[key]; busy {
		return nil, mediaflow.ErrConflict
	}
	if err := j.Reset(m.now()); err != nil {
		return nil, err
	}
	m.active[key] = j.ID.String()
	return copyJob(j), nil
}

func (m *Store) transition(jobID id.JobID, apply func(*job.Job, time.Time) error) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, mediaflow.ErrJobNotFound
	}

	// Apply to a copy so a rejected transition leaves the stored job intact.
	cp := copyJob(j)
	if err := apply(cp, m.now()); err != nil {
		return nil, err
	}
	m.jobs[jobID.String()] = cp
	if !cp.Status.Active() {
		delete(m.active, activeKey{subject: cp.SubjectID.String(), typ: cp.Type})
	}
	return copyJob(cp), nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, mediaflow.ErrJobNotFound
	}
	return copyJob(j), nil
}

// ListJobs returns matching jobs, oldest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := m.filter(opts)
	sort.Slice(result, func(i, k int) bool { return before(result[i], result[k]) })

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return []*job.Job{}, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	for i, j := range result {
		result[i] = copyJob(j)
	}
	return result, nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.ListOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.filter(opts))), nil
}

func (m *Store) filter(opts job.ListOpts) []*job.Job {
	var result []*job.Job
	for _, j := range m.jobs {
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if !opts.SubjectID.IsNil() && j.SubjectID.String() != opts.SubjectID.String() {
			continue
		}
		result = append(result, j)
	}
	return result
}

// before orders jobs by creation time, breaking ties by ID.
func before(a, b *job.Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.Compare(b.ID) < 0
}

// copyJob returns a deep copy so callers can mutate without racing the store.
func copyJob(j *job.Job) *job.Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	return &cp
}
