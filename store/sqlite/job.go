package sqlite

import (
	"context"
	"fmt"
	"math"

	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

// CreateJob inserts a pending job in one statement that also checks the
// subject exists. The partial unique index on (subject_id, job_type)
// rejects a second active job.
func (s *Store) CreateJob(ctx context.Context, subjectID id.SubjectID, t job.Type) (*job.Job, error) {
	if err := subject.Accepts(subjectID, t); err != nil {
		return nil, err
	}

	j := job.New(subjectID, t)
	now := s.now()
	j.CreatedAt, j.UpdatedAt = now, now

	res, err := s.sdb.NewRaw(`
		INSERT INTO mediaflow_jobs (id, subject_id, job_type, status, created_at, updated_at)
		SELECT ?, ?, ?, 'pending', ?, ?
		WHERE EXISTS (SELECT 1 FROM mediaflow_subjects WHERE id = ?)`,
		j.ID.String(), subjectID.String(), string(t), now.UnixNano(), now.UnixNano(),
		subjectID.String(),
	).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, mediaflow.ErrConflict
		}
		return nil, fmt.Errorf("mediaflow/sqlite: create job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return nil, mediaflow.ErrSubjectNotFound
	}
	return j, nil
}

// ClaimNext claims the oldest pending job of type t in one statement.
// SQLite has no FOR UPDATE SKIP LOCKED; the single writer lock plus the
// repeated status check make the claim exclusive.
func (s *Store) ClaimNext(ctx context.Context, t job.Type, workerID id.WorkerID) (*job.Job, error) {
	now := s.now().UnixNano()
	var models []jobModel
	err := s.sdb.NewRaw(`
		UPDATE mediaflow_jobs
		SET status = 'in_progress', worker_id = ?, started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM mediaflow_jobs
			WHERE job_type = ? AND status = 'pending'
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		) AND status = 'pending'
		RETURNING *`,
		workerID.String(), now, now, string(t),
	).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("mediaflow/sqlite: claim next: %w", err)
	}
	if len(models) == 0 {
		return nil, nil //nolint:nilnil // nothing claimable
	}
	return fromJobModel(&models[0])
}

// CompleteJob moves an in_progress job to completed. processing_time is
// computed in the same statement that sets completed_at.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, r job.Result) (*job.Job, error) {
	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(current.Type); err != nil {
		return nil, err
	}

	now := s.now().UnixNano()
	return s.transition(ctx, "complete job", jobID, `
		UPDATE mediaflow_jobs
		SET status = 'completed', result_kind = ?, result_ref = ?,
		    completed_at = ?, processing_time = ? - COALESCE(started_at, ?), updated_at = ?
		WHERE id = ? AND status = 'in_progress'
		RETURNING *`,
		string(r.Kind), r.Ref.String(), now, now, now, now, jobID.String(),
	)
}

// FailJob moves an in_progress job to failed.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, details job.ErrorDetails) (*job.Job, error) {
	now := s.now()
	if details.FailedAt.IsZero() {
		details.FailedAt = now
	}
	encoded, err := encodeDetails(details)
	if err != nil {
		return nil, fmt.Errorf("mediaflow/sqlite: fail job: encode details: %w", err)
	}

	return s.transition(ctx, "fail job", jobID, `
		UPDATE mediaflow_jobs
		SET status = 'failed', error_details = ?, updated_at = ?
		WHERE id = ? AND status = 'in_progress'
		RETURNING *`,
		encoded, now.UnixNano(), jobID.String(),
	)
}

// RetryJob moves a failed job back to pending and clears the previous
// attempt.
func (s *Store) RetryJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.transition(ctx, "retry job", jobID, `
		UPDATE mediaflow_jobs
		SET status = 'pending', attempts = attempts + 1, worker_id = NULL,
		    error_details = NULL, result_kind = NULL, result_ref = NULL,
		    started_at = NULL, completed_at = NULL, processing_time = 0, updated_at = ?
		WHERE id = ? AND status = 'failed'
		RETURNING *`,
		s.now().UnixNano(), jobID.String(),
	)
}

// transition runs a conditional UPDATE … RETURNING. No returned row means
// the job is missing or in the wrong status; a follow-up lookup tells
// which.
func (s *Store) transition(ctx context.Context, op string, jobID id.JobID, query string, args ...any) (*job.Job, error) {
	var models []jobModel
	err := s.sdb.NewRaw(query, args...).Scan(ctx, &models)
	switch {
	case err != nil && isUniqueViolation(err):
		return nil, mediaflow.ErrConflict
	case err != nil:
		return nil, fmt.Errorf("mediaflow/sqlite: %s: %w", op, err)
	case len(models) > 0:
		return fromJobModel(&models[0])
	}

	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, mediaflow.ErrInvalidState
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, mediaflow.ErrJobNotFound
		}
		return nil, fmt.Errorf("mediaflow/sqlite: get job: %w", err)
	}
	return fromJobModel(m)
}

// ListJobs returns matching jobs, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := applyFilters(s.sdb.NewSelect(&models), opts).
		OrderExpr("created_at ASC, id ASC")

	switch {
	case opts.Limit > 0:
		q = q.Limit(opts.Limit)
	case opts.Offset > 0:
		// SQLite only accepts OFFSET after a LIMIT.
		q = q.Limit(math.MaxInt32)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("mediaflow/sqlite: list jobs: %w", err)
	}
	jobs, err := fromJobModels(models)
	if err != nil {
		return nil, fmt.Errorf("mediaflow/sqlite: list jobs convert: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.ListOpts) (int64, error) {
	count, err := applyFilters(s.sdb.NewSelect((*jobModel)(nil)), opts).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("mediaflow/sqlite: count jobs: %w", err)
	}
	return count, nil
}

func applyFilters(q *sqlitedriver.SelectQuery, opts job.ListOpts) *sqlitedriver.SelectQuery {
	if opts.Type != "" {
		q = q.Where("job_type = ?", string(opts.Type))
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if !opts.SubjectID.IsNil() {
		q = q.Where("subject_id = ?", opts.SubjectID.String())
	}
	return q
}
