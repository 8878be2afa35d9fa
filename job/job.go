package job

import (
	"fmt"
	"time"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting to be claimed.
	StatusPending Status = "pending"
	// StatusInProgress means exactly one worker owns the job.
	StatusInProgress Status = "in_progress"
	// StatusCompleted means the job finished and produced a result.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed; only a retry moves it again.
	StatusFailed Status = "failed"
)

// transitions lists the allowed moves out of each status.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusPending},
}

// CanTransition reports whether a job may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Active reports whether the status counts toward the one-active-job-per-
// subject rule.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Type names a pipeline stage.
type Type string

const (
	TypeTranscription Type = "transcription"
	TypeSummarization Type = "summarization"
)

// Types returns every pipeline stage in pipeline order.
func Types() []Type {
	return []Type{TypeTranscription, TypeSummarization}
}

// Valid reports whether t is a known stage.
func (t Type) Valid() bool {
	return t == TypeTranscription || t == TypeSummarization
}

// SubjectPrefix is the ID prefix of the entity a job of type t operates on.
func (t Type) SubjectPrefix() id.Prefix {
	switch t {
	case TypeTranscription:
		return id.PrefixVideo
	case TypeSummarization:
		return id.PrefixTranscript
	}
	return ""
}

// ParseType parses a stage name.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("job: unknown type %q", s)
	}
	return t, nil
}

// Job is one stage of processing for one subject.
type Job struct {
	mediaflow.Entity

	ID             id.JobID      `json:"id"`
	SubjectID      id.SubjectID  `json:"subject_id"`
	Type           Type          `json:"job_type"`
	Status         Status        `json:"status"`
	Attempts       int           `json:"attempts"`
	WorkerID       id.WorkerID   `json:"worker_id,omitempty"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	ProcessingTime time.Duration `json:"processing_time,omitempty"`
	Error          *ErrorDetails `json:"error_details,omitempty"`
	Result         *Result       `json:"result,omitempty"`
}

// New returns a pending job for subjectID.
func New(subjectID id.SubjectID, t Type) *Job {
	return &Job{
		Entity:    mediaflow.NewEntity(),
		ID:        id.NewJobID(),
		SubjectID: subjectID,
		Type:      t,
		Status:    StatusPending,
	}
}

// ──────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────

// Claim moves a pending job to in_progress for workerID.
func (j *Job) Claim(workerID id.WorkerID, now time.Time) error {
	if !j.Status.CanTransition(StatusInProgress) {
		return mediaflow.ErrInvalidState
	}
	j.Status = StatusInProgress
	j.WorkerID = workerID
	j.StartedAt = &now
	j.UpdatedAt = now
	return nil
}

// Complete records the result of an in_progress job. CompletedAt and
// ProcessingTime are set here and nowhere else.
func (j *Job) Complete(r Result, now time.Time) error {
	if !j.Status.CanTransition(StatusCompleted) {
		return mediaflow.ErrInvalidState
	}
	if err := r.Validate(j.Type); err != nil {
		return err
	}
	j.Status = StatusCompleted
	j.Result = &r
	j.CompletedAt = &now
	j.ProcessingTime = elapsed(j.StartedAt, now)
	j.UpdatedAt = now
	return nil
}

// Fail records the error of an in_progress job.
func (j *Job) Fail(details ErrorDetails, now time.Time) error {
	if !j.Status.CanTransition(StatusFailed) {
		return mediaflow.ErrInvalidState
	}
	if details.FailedAt.IsZero() {
		details.FailedAt = now
	}
	j.Status = StatusFailed
	j.Error = &details
	j.UpdatedAt = now
	return nil
}

// Reset moves a failed job back to pending and clears everything the
// previous attempt recorded.
func (j *Job) Reset(now time.Time) error {
	if !j.Status.CanTransition(StatusPending) {
		return mediaflow.ErrInvalidState
	}
	j.Status = StatusPending
	j.Attempts++
	j.WorkerID = id.Nil
	j.StartedAt = nil
	j.CompletedAt = nil
	j.ProcessingTime = 0
	j.Error = nil
	j.Result = nil
	j.UpdatedAt = now
	return nil
}

func elapsed(start *time.Time, end time.Time) time.Duration {
	if start == nil {
		return 0
	}
	return end.Sub(*start)
}
