package job

import (
	"context"

	"github.com/xraph/mediaflow/id"
)

// ListOpts controls filtering and pagination for job queries. Results are
// ordered oldest first (CreatedAt, then ID).
type ListOpts struct {
	// Type filters by stage. Empty means all stages.
	Type Type
	// Status filters by status. Empty means all statuses.
	Status Status
	// SubjectID filters by subject. Nil means all subjects.
	SubjectID id.SubjectID
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Store defines the persistence contract for jobs. Every transition is a
// single conditional write so that concurrent callers in different
// processes cannot both succeed.
type Store interface {
	// CreateJob inserts a pending job for subjectID. It returns
	// ErrSubjectNotFound if the subject is unknown, ErrInvalidSubject if its
	// kind does not match t, and ErrConflict if a pending or in_progress job
	// of type t already exists for the subject.
	CreateJob(ctx context.Context, subjectID id.SubjectID, t Type) (*Job, error)

	// ClaimNext atomically moves the oldest pending job of type t to
	// in_progress and returns it. It returns (nil, nil) when nothing is
	// pending.
	ClaimNext(ctx context.Context, t Type, workerID id.WorkerID) (*Job, error)

	// CompleteJob moves an in_progress job to completed.
	CompleteJob(ctx context.Context, jobID id.JobID, r Result) (*Job, error)

	// FailJob moves an in_progress job to failed.
	FailJob(ctx context.Context, jobID id.JobID, details ErrorDetails) (*Job, error)

	// RetryJob moves a failed job back to pending, clearing its error.
	RetryJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs matching opts.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching opts, ignoring paging.
	CountJobs(ctx context.Context, opts ListOpts) (int64, error)
}
