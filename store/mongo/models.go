package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

// ── Job model ─────────────────────────────────────────────────────

type errorModel struct {
	Class    string    `bson:"class"`
	Message  string    `bson:"error"`
	Kind     string    `bson:"type,omitempty"`
	FailedAt time.Time `bson:"failed_at"`
}

type jobModel struct {
	grove.BaseModel `grove:"table:mediaflow_jobs"`

	ID               string      `grove:"id,pk"                bson:"_id"`
	SubjectID        string      `grove:"subject_id,notnull"   bson:"subject_id"`
	Type             string      `grove:"job_type,notnull"     bson:"job_type"`
	Status           string      `grove:"status,notnull"       bson:"status"`
	Attempts         int         `grove:"attempts,notnull"     bson:"attempts"`
	WorkerID         string      `grove:"worker_id"            bson:"worker_id,omitempty"`
	ErrorDetails     *errorModel `grove:"error_details"        bson:"error_details,omitempty"`
	ResultKind       string      `grove:"result_kind"          bson:"result_kind,omitempty"`
	ResultRef        string      `grove:"result_ref"           bson:"result_ref,omitempty"`
	StartedAt        *time.Time  `grove:"started_at"           bson:"started_at,omitempty"`
	CompletedAt      *time.Time  `grove:"completed_at"         bson:"completed_at,omitempty"`
	ProcessingTimeMS int64       `grove:"processing_time_ms"   bson:"processing_time_ms"`
	CreatedAt        time.Time   `grove:"created_at,notnull"   bson:"created_at"`
	UpdatedAt        time.Time   `grove:"updated_at,notnull"   bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:        j.ID.String(),
		SubjectID: j.SubjectID.String(),
		Type:      string(j.Type),
		Status:    string(j.Status),
		Attempts:  j.Attempts,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("mediaflow/mongo: parse job id %q: %w", m.ID, err)
	}
	subjectID, err := id.ParseSubjectID(m.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("mediaflow/mongo: parse subject id %q: %w", m.SubjectID, err)
	}

	j := &job.Job{
		ID:             jobID,
		SubjectID:      subjectID,
		Type:           job.Type(m.Type),
		Status:         job.Status(m.Status),
		Attempts:       m.Attempts,
		StartedAt:      utc(m.StartedAt),
		CompletedAt:    utc(m.CompletedAt),
		ProcessingTime: time.Duration(m.ProcessingTimeMS) * time.Millisecond,
	}
	j.CreatedAt = m.CreatedAt.UTC()
	j.UpdatedAt = m.UpdatedAt.UTC()

	if m.WorkerID != "" {
		if j.WorkerID, err = id.ParseWorkerID(m.WorkerID); err != nil {
			return nil, fmt.Errorf("mediaflow/mongo: parse worker id %q: %w", m.WorkerID, err)
		}
	}
	if e := m.ErrorDetails; e != nil {
		j.Error = &job.ErrorDetails{
			Class:    job.ErrorClass(e.Class),
			Message:  e.Message,
			Kind:     e.Kind,
			FailedAt: e.FailedAt.UTC(),
		}
	}
	if m.ResultKind != "" && m.ResultRef != "" {
		ref, err := id.Parse(m.ResultRef)
		if err != nil {
			return nil, fmt.Errorf("mediaflow/mongo: parse result ref %q: %w", m.ResultRef, err)
		}
		j.Result = &job.Result{Kind: job.ResultKind(m.ResultKind), Ref: ref}
	}
	return j, nil
}

// ── Subject model ─────────────────────────────────────────────────

type subjectModel struct {
	grove.BaseModel `grove:"table:mediaflow_subjects"`

	ID        string    `grove:"id,pk"              bson:"_id"`
	Kind      string    `grove:"kind,notnull"       bson:"kind"`
	ParentID  string    `grove:"parent_id"          bson:"parent_id,omitempty"`
	Name      string    `grove:"name,notnull"       bson:"name"`
	CreatedAt time.Time `grove:"created_at,notnull" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at,notnull" bson:"updated_at"`
}

func toSubjectModel(s *subject.Subject) *subjectModel {
	return &subjectModel{
		ID:        s.ID.String(),
		Kind:      string(s.Kind()),
		ParentID:  s.ParentID.String(),
		Name:      s.Name,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func fromSubjectModel(m *subjectModel) (*subject.Subject, error) {
	subjectID, err := id.ParseSubjectID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("mediaflow/mongo: parse subject id %q: %w", m.ID, err)
	}
	s := &subject.Subject{ID: subjectID, Name: m.Name}
	s.CreatedAt = m.CreatedAt.UTC()
	s.UpdatedAt = m.UpdatedAt.UTC()
	if m.ParentID != "" {
		if s.ParentID, err = id.ParseSubjectID(m.ParentID); err != nil {
			return nil, fmt.Errorf("mediaflow/mongo: parse parent id %q: %w", m.ParentID, err)
		}
	}
	return s, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
