package ext

import (
	"context"

	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobCreated is called after a job is persisted as pending.
type JobCreated interface {
	OnJobCreated(ctx context.Context, j *job.Job) error
}

// JobClaimed is called after a worker wins the claim for a job.
type JobClaimed interface {
	OnJobClaimed(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job is marked completed. The job carries
// its result and processing time.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job) error
}

// JobFailed is called after a job is marked failed. The job carries the
// recorded error details.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job) error
}

// JobRetried is called after a failed job is reset to pending.
type JobRetried interface {
	OnJobRetried(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// SubjectCreated is called after a new video or transcript is registered.
type SubjectCreated interface {
	OnSubjectCreated(ctx context.Context, s *subject.Subject) error
}

// Shutdown is called during graceful shutdown, after workers stop.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
