package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

// CreateJob inserts a pending job only if the subject row exists. The
// partial unique index rejects a second active job for the same subject.
func (s *Store) CreateJob(ctx context.Context, subjectID id.SubjectID, t job.Type) (*job.Job, error) {
	if err := subject.Accepts(subjectID, t); err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO mediaflow_jobs (id, subject_id, job_type, status)
		SELECT $1, sub.id, $3, 'pending'
		FROM mediaflow_subjects sub
		WHERE sub.id = $2
		RETURNING `+jobColumns,
		id.NewJobID().String(), subjectID.String(), string(t),
	)

	j, err := scanJob(row)
	switch {
	case err == nil:
		return j, nil
	case isNoRows(err):
		return nil, mediaflow.ErrSubjectNotFound
	case isDuplicateKey(err):
		return nil, mediaflow.ErrConflict
	}
	return nil, fmt.Errorf("mediaflow/postgres: create job: %w", err)
}

// ClaimNext atomically claims the oldest pending job of type t. SKIP
// LOCKED lets concurrent claimers pass over a row another transaction is
// already taking.
func (s *Store) ClaimNext(ctx context.Context, t job.Type, workerID id.WorkerID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE mediaflow_jobs
		SET status = 'in_progress', worker_id = $2, started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM mediaflow_jobs
			WHERE job_type = $1 AND status = 'pending'
			ORDER BY created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		string(t), workerID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // nothing claimable
		}
		return nil, fmt.Errorf("mediaflow/postgres: claim next: %w", err)
	}
	return j, nil
}

// CompleteJob moves an in_progress job to completed and computes
// processing_time from started_at in the same statement.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, r job.Result) (*job.Job, error) {
	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(current.Type); err != nil {
		return nil, err
	}

	return s.transition(ctx, "complete job", jobID, `
		UPDATE mediaflow_jobs
		SET status = 'completed', result_kind = $2, result_ref = $3,
		    completed_at = NOW(),
		    processing_time_us = COALESCE((EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000000)::BIGINT, 0),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'
		RETURNING `+jobColumns,
		jobID.String(), string(r.Kind), r.Ref.String(),
	)
}

// FailJob moves an in_progress job to failed.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, details job.ErrorDetails) (*job.Job, error) {
	if details.FailedAt.IsZero() {
		details.FailedAt = time.Now().UTC()
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("mediaflow/postgres: fail job: encode details: %w", err)
	}

	return s.transition(ctx, "fail job", jobID, `
		UPDATE mediaflow_jobs
		SET status = 'failed', error_details = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'
		RETURNING `+jobColumns,
		jobID.String(), encoded,
	)
}

// RetryJob moves a failed job back to pending and clears the previous
// attempt.
func (s *Store) RetryJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.transition(ctx, "retry job", jobID, `
		UPDATE mediaflow_jobs
		SET status = 'pending', attempts = attempts + 1, worker_id = NULL,
		    error_details = NULL, result_kind = NULL, result_ref = NULL,
		    started_at = NULL, completed_at = NULL, processing_time_us = 0,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
		RETURNING `+jobColumns,
		jobID.String(),
	)
}

// transition runs a conditional UPDATE … RETURNING. No returned row means
// the job is missing or in the wrong status; a follow-up lookup tells
// which.
func (s *Store) transition(ctx context.Context, op string, jobID id.JobID, query string, args ...any) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	switch {
	case err == nil:
		return j, nil
	case isDuplicateKey(err):
		return nil, mediaflow.ErrConflict
	case !isNoRows(err):
		return nil, fmt.Errorf("mediaflow/postgres: %s: %w", op, err)
	}

	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, mediaflow.ErrInvalidState
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM mediaflow_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, mediaflow.ErrJobNotFound
		}
		return nil, fmt.Errorf("mediaflow/postgres: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns matching jobs, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	where, args := buildWhere(opts)
	query := `SELECT ` + jobColumns + ` FROM mediaflow_jobs` + where +
		` ORDER BY created_at ASC, id ASC`

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mediaflow/postgres: list jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.ListOpts) (int64, error) {
	where, args := buildWhere(opts)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM mediaflow_jobs`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("mediaflow/postgres: count jobs: %w", err)
	}
	return n, nil
}

func buildWhere(opts job.ListOpts) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if opts.Type != "" {
		add("job_type = $%d", string(opts.Type))
	}
	if opts.Status != "" {
		add("status = $%d", string(opts.Status))
	}
	if !opts.SubjectID.IsNil() {
		add("subject_id = $%d", opts.SubjectID.String())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
