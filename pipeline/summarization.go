package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/mediaflow/artifact"
	"github.com/xraph/mediaflow/executor"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
)

// Compile-time interface check.
var _ executor.Executor = (*Summarization)(nil)

// Summarization summarizes a transcript subject and stores the summary.
type Summarization struct {
	artifacts  artifact.Store
	summarizer Summarizer
	logger     *slog.Logger
}

// NewSummarization creates the summarization executor.
func NewSummarization(artifacts artifact.Store, summarizer Summarizer, logger *slog.Logger) *Summarization {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarization{artifacts: artifacts, summarizer: summarizer, logger: logger}
}

// Execute implements executor.Executor.
func (s *Summarization) Execute(ctx context.Context, j *job.Job) (job.Result, error) {
	data, err := artifact.ReadAll(ctx, s.artifacts, artifact.TranscriptKey(j.SubjectID))
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return job.Result{}, executor.Permanent(fmt.Errorf("transcript: %w", err))
		}
		return job.Result{}, executor.Transient(err)
	}

	var tr Transcript
	if err := json.Unmarshal(data, &tr); err != nil {
		return job.Result{}, executor.Permanent(fmt.Errorf("decode transcript: %w", err))
	}
	if strings.TrimSpace(tr.Text) == "" {
		return job.Result{}, executor.Permanent(errors.New("transcript is empty"))
	}

	summary, err := s.summarizer.Summarize(ctx, tr.Text)
	if err != nil {
		return job.Result{}, err
	}
	summary = CleanSummary(summary)
	if summary == "" {
		return job.Result{}, executor.Transient(errors.New("summarizer returned no text"))
	}

	summaryID := id.NewSummaryID()
	if err := artifact.PutBytes(ctx, s.artifacts, artifact.SummaryKey(summaryID), []byte(summary), artifact.ContentTypeMarkdown); err != nil {
		return job.Result{}, executor.Transient(err)
	}

	s.logger.Info("summary stored",
		slog.String("job_id", j.ID.String()),
		slog.String("subject_id", j.SubjectID.String()),
		slog.String("summary_id", summaryID.String()),
		slog.Int("transcript_chars", len(tr.Text)),
	)
	return job.SummaryResult(summaryID), nil
}
