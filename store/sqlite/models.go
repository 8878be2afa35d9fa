package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

// ── Job model ─────────────────────────────────────────────────────

// jobModel mirrors one mediaflow_jobs row. Timestamps are unix nanoseconds.
type jobModel struct {
	grove.BaseModel `grove:"table:mediaflow_jobs"`

	ID             string  `grove:"id,pk"`
	SubjectID      string  `grove:"subject_id,notnull"`
	Type           string  `grove:"job_type,notnull"`
	Status         string  `grove:"status,notnull"`
	Attempts       int     `grove:"attempts,notnull"`
	WorkerID       *string `grove:"worker_id"`
	ErrorDetails   *string `grove:"error_details"`
	ResultKind     *string `grove:"result_kind"`
	ResultRef      *string `grove:"result_ref"`
	StartedAt      *int64  `grove:"started_at"`
	CompletedAt    *int64  `grove:"completed_at"`
	ProcessingTime int64   `grove:"processing_time,notnull"`
	CreatedAt      int64   `grove:"created_at,notnull"`
	UpdatedAt      int64   `grove:"updated_at,notnull"`
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	subjectID, err := id.ParseSubjectID(m.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("parse subject id: %w", err)
	}

	j := &job.Job{
		ID:             jobID,
		SubjectID:      subjectID,
		Type:           job.Type(m.Type),
		Status:         job.Status(m.Status),
		Attempts:       m.Attempts,
		StartedAt:      fromNullNanos(m.StartedAt),
		CompletedAt:    fromNullNanos(m.CompletedAt),
		ProcessingTime: time.Duration(m.ProcessingTime),
	}
	j.CreatedAt = fromNanos(m.CreatedAt)
	j.UpdatedAt = fromNanos(m.UpdatedAt)

	if m.WorkerID != nil && *m.WorkerID != "" {
		if j.WorkerID, err = id.ParseWorkerID(*m.WorkerID); err != nil {
			return nil, fmt.Errorf("parse worker id: %w", err)
		}
	}
	if m.ErrorDetails != nil {
		var details job.ErrorDetails
		if err := json.Unmarshal([]byte(*m.ErrorDetails), &details); err != nil {
			return nil, fmt.Errorf("decode error details: %w", err)
		}
		j.Error = &details
	}
	if m.ResultKind != nil && m.ResultRef != nil {
		ref, err := id.Parse(*m.ResultRef)
		if err != nil {
			return nil, fmt.Errorf("parse result ref: %w", err)
		}
		j.Result = &job.Result{Kind: job.ResultKind(*m.ResultKind), Ref: ref}
	}
	return j, nil
}

func fromJobModels(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ── Subject model ─────────────────────────────────────────────────

type subjectModel struct {
	grove.BaseModel `grove:"table:mediaflow_subjects"`

	ID        string  `grove:"id,pk"`
	Kind      string  `grove:"kind,notnull"`
	ParentID  *string `grove:"parent_id"`
	Name      string  `grove:"name,notnull"`
	CreatedAt int64   `grove:"created_at,notnull"`
	UpdatedAt int64   `grove:"updated_at,notnull"`
}

func toSubjectModel(s *subject.Subject) *subjectModel {
	m := &subjectModel{
		ID:        s.ID.String(),
		Kind:      string(s.Kind()),
		Name:      s.Name,
		CreatedAt: s.CreatedAt.UnixNano(),
		UpdatedAt: s.UpdatedAt.UnixNano(),
	}
	if !s.ParentID.IsNil() {
		parent := s.ParentID.String()
		m.ParentID = &parent
	}
	return m
}

func fromSubjectModel(m *subjectModel) (*subject.Subject, error) {
	subjectID, err := id.ParseSubjectID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subject id: %w", err)
	}
	s := &subject.Subject{ID: subjectID, Name: m.Name}
	s.CreatedAt = fromNanos(m.CreatedAt)
	s.UpdatedAt = fromNanos(m.UpdatedAt)
	if m.ParentID != nil && *m.ParentID != "" {
		if s.ParentID, err = id.ParseSubjectID(*m.ParentID); err != nil {
			return nil, fmt.Errorf("parse parent id: %w", err)
		}
	}
	return s, nil
}

func encodeDetails(d job.ErrorDetails) (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullNanos(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromNanos(*n)
	return &t
}
