package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

const jobColumns = `id, subject_id, job_type, status, attempts, worker_id,
	error_details, result_kind, result_ref,
	started_at, completed_at, processing_time_us, created_at, updated_at`

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j            job.Job
		idStr        string
		subjectStr   string
		typeStr      string
		statusStr    string
		workerStr    *string
		errorDetails []byte
		resultKind   *string
		resultRef    *string
		processingUS int64
	)
	err := row.Scan(
		&idStr, &subjectStr, &typeStr, &statusStr, &j.Attempts, &workerStr,
		&errorDetails, &resultKind, &resultRef,
		&j.StartedAt, &j.CompletedAt, &processingUS, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if j.ID, err = id.ParseJobID(idStr); err != nil {
		return nil, fmt.Errorf("mediaflow/postgres: parse job id %q: %w", idStr, err)
	}
	if j.SubjectID, err = id.ParseSubjectID(subjectStr); err != nil {
		return nil, fmt.Errorf("mediaflow/postgres: parse subject id %q: %w", subjectStr, err)
	}
	j.Type = job.Type(typeStr)
	j.Status = job.Status(statusStr)
	j.ProcessingTime = time.Duration(processingUS) * time.Microsecond
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	j.StartedAt = utc(j.StartedAt)
	j.CompletedAt = utc(j.CompletedAt)

	if workerStr != nil && *workerStr != "" {
		if j.WorkerID, err = id.ParseWorkerID(*workerStr); err != nil {
			return nil, fmt.Errorf("mediaflow/postgres: parse worker id %q: %w", *workerStr, err)
		}
	}
	if len(errorDetails) > 0 {
		var details job.ErrorDetails
		if err := json.Unmarshal(errorDetails, &details); err != nil {
			return nil, fmt.Errorf("mediaflow/postgres: decode error details: %w", err)
		}
		j.Error = &details
	}
	if resultKind != nil && resultRef != nil {
		ref, err := id.Parse(*resultRef)
		if err != nil {
			return nil, fmt.Errorf("mediaflow/postgres: parse result ref %q: %w", *resultRef, err)
		}
		j.Result = &job.Result{Kind: job.ResultKind(*resultKind), Ref: ref}
	}
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("mediaflow/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mediaflow/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

func scanSubject(row pgx.Row) (*subject.Subject, error) {
	var (
		s         subject.Subject
		idStr     string
		parentStr *string
	)
	if err := row.Scan(&idStr, &parentStr, &s.Name, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if s.ID, err = id.ParseSubjectID(idStr); err != nil {
		return nil, fmt.Errorf("mediaflow/postgres: parse subject id %q: %w", idStr, err)
	}
	if parentStr != nil {
		if s.ParentID, err = id.ParseSubjectID(*parentStr); err != nil {
			return nil, fmt.Errorf("mediaflow/postgres: parse parent id %q: %w", *parentStr, err)
		}
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
