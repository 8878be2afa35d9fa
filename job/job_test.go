package job_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to job.Status
		want     bool
	}{
		{job.StatusPending, job.StatusInProgress, true},
		{job.StatusPending, job.StatusCompleted, false},
		{job.StatusPending, job.StatusFailed, false},
		{job.StatusInProgress, job.StatusCompleted, true},
		{job.StatusInProgress, job.StatusFailed, true},
		{job.StatusInProgress, job.StatusPending, false},
		{job.StatusFailed, job.StatusPending, true},
		{job.StatusFailed, job.StatusInProgress, false},
		{job.StatusCompleted, job.StatusPending, false},
		{job.StatusCompleted, job.StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestType_SubjectPrefix(t *testing.T) {
	if got := job.TypeTranscription.SubjectPrefix(); got != id.PrefixVideo {
		t.Errorf("transcription subject prefix = %q", got)
	}
	if got := job.TypeSummarization.SubjectPrefix(); got != id.PrefixTranscript {
		t.Errorf("summarization subject prefix = %q", got)
	}
	if _, err := job.ParseType("translation"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestJob_CompleteTwice(t *testing.T) {
	j := job.New(id.NewVideoID(), job.TypeTranscription)
	start := time.Now().UTC()
	if err := j.Claim(id.NewWorkerID(), start); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	end := start.Add(3 * time.Second)
	if err := j.Complete(job.TranscriptResult(id.NewTranscriptID()), end); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if j.ProcessingTime != 3*time.Second {
		t.Errorf("ProcessingTime = %v, want 3s", j.ProcessingTime)
	}

	err := j.Complete(job.TranscriptResult(id.NewTranscriptID()), end.Add(time.Hour))
	if !errors.Is(err, mediaflow.ErrInvalidState) {
		t.Fatalf("second Complete err = %v, want ErrInvalidState", err)
	}
	if j.ProcessingTime != 3*time.Second || !j.CompletedAt.Equal(end) {
		t.Errorf("completion fields changed: %v %v", j.ProcessingTime, j.CompletedAt)
	}
}

func TestJob_FailThenReset(t *testing.T) {
	j := job.New(id.NewTranscriptID(), job.TypeSummarization)
	now := time.Now().UTC()
	_ = j.Claim(id.NewWorkerID(), now)

	if err := j.Fail(job.ErrorDetails{Class: job.ClassTransient, Message: "llm timeout"}, now); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if j.Error == nil || j.Error.FailedAt.IsZero() {
		t.Fatalf("expected error details with FailedAt, got %+v", j.Error)
	}

	if err := j.Reset(now); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if j.Status != job.StatusPending {
		t.Errorf("Status = %q, want pending", j.Status)
	}
	if j.Error != nil || j.StartedAt != nil || !j.WorkerID.IsNil() {
		t.Errorf("reset left state behind: %+v", j)
	}
	if j.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", j.Attempts)
	}
}

func TestJob_InvalidTransitions(t *testing.T) {
	now := time.Now().UTC()
	j := job.New(id.NewVideoID(), job.TypeTranscription)

	if err := j.Complete(job.TranscriptResult(id.NewTranscriptID()), now); !errors.Is(err, mediaflow.ErrInvalidState) {
		t.Errorf("Complete on pending: %v", err)
	}
	if err := j.Fail(job.ErrorDetails{}, now); !errors.Is(err, mediaflow.ErrInvalidState) {
		t.Errorf("Fail on pending: %v", err)
	}
	if err := j.Reset(now); !errors.Is(err, mediaflow.ErrInvalidState) {
		t.Errorf("Reset on pending: %v", err)
	}
}

func TestResult_Validate(t *testing.T) {
	tests := []struct {
		name    string
		typ     job.Type
		result  job.Result
		wantErr bool
	}{
		{"transcript ok", job.TypeTranscription, job.TranscriptResult(id.NewTranscriptID()), false},
		{"summary ok", job.TypeSummarization, job.SummaryResult(id.NewSummaryID()), false},
		{"wrong variant", job.TypeTranscription, job.SummaryResult(id.NewSummaryID()), true},
		{"wrong prefix", job.TypeSummarization, job.SummaryResult(id.NewVideoID()), true},
		{"nil ref", job.TypeTranscription, job.TranscriptResult(id.Nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate(tt.typ)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
