package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/ext"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*FollowUp)(nil)
	_ ext.JobCompleted = (*FollowUp)(nil)
)

// Creator creates jobs. The engine implements it.
type Creator interface {
	Create(ctx context.Context, subjectID id.SubjectID, t job.Type) (*job.Job, error)
}

// FollowUp creates the summarization job for each completed transcription.
// It must be registered before the extension that publishes completion
// events, so the job exists when summarization workers are notified.
type FollowUp struct {
	creator Creator
	logger  *slog.Logger
}

// NewFollowUp creates the follow-up extension.
func NewFollowUp(creator Creator, logger *slog.Logger) *FollowUp {
	if logger == nil {
		logger = slog.Default()
	}
	return &FollowUp{creator: creator, logger: logger}
}

// Name implements ext.Extension.
func (f *FollowUp) Name() string { return "pipeline-followup" }

// OnJobCompleted implements ext.JobCompleted. An already active
// summarization job for the transcript is not an error.
func (f *FollowUp) OnJobCompleted(ctx context.Context, j *job.Job) error {
	if j.Type != job.TypeTranscription || j.Result == nil {
		return nil
	}
	transcriptID := j.Result.Ref

	next, err := f.creator.Create(ctx, transcriptID, job.TypeSummarization)
	if errors.Is(err, mediaflow.ErrConflict) {
		f.logger.Debug("summarization already queued", slog.String("subject_id", transcriptID.String()))
		return nil
	}
	if err != nil {
		// The transcription is already committed as completed, so nothing
		// will create this job again on its own.
		f.logger.Error("summarization not queued, transcript left without a job",
			slog.String("subject_id", transcriptID.String()),
			slog.String("source_job_id", j.ID.String()),
			slog.String("error", err.Error()),
			slog.String("recover_with", RecoverCommand(transcriptID)),
		)
		return fmt.Errorf("pipeline: create summarization for %s: %w", transcriptID, err)
	}

	f.logger.Info("summarization queued",
		slog.String("job_id", next.ID.String()),
		slog.String("subject_id", transcriptID.String()),
		slog.String("source_job_id", j.ID.String()),
	)
	return nil
}

// RecoverCommand is the CLI invocation that queues the summarization job a
// failed follow-up left out.
func RecoverCommand(transcriptID id.SubjectID) string {
	return fmt.Sprintf("mediaflow enqueue --subject %s --type %s", transcriptID, job.TypeSummarization)
}
