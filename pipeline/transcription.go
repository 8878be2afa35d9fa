package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/artifact"
	"github.com/xraph/mediaflow/executor"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

// Compile-time interface check.
var _ executor.Executor = (*Transcription)(nil)

// Transcription runs speech recognition over a video subject. It stores
// the transcript document, registers the transcript subject and returns
// its ID.
type Transcription struct {
	subjects  subject.Store
	artifacts artifact.Store
	stt       SpeechToText
	logger    *slog.Logger
}

// NewTranscription creates the transcription executor.
func NewTranscription(subjects subject.Store, artifacts artifact.Store, stt SpeechToText, logger *slog.Logger) *Transcription {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcription{subjects: subjects, artifacts: artifacts, stt: stt, logger: logger}
}

// Execute implements executor.Executor.
func (t *Transcription) Execute(ctx context.Context, j *job.Job) (job.Result, error) {
	video, err := t.subjects.GetSubject(ctx, j.SubjectID)
	if err != nil {
		return job.Result{}, lookupError(err)
	}

	audio, err := t.artifacts.Get(ctx, video.Name)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return job.Result{}, executor.Permanent(fmt.Errorf("source media: %w", err))
		}
		return job.Result{}, executor.Transient(err)
	}
	defer audio.Close()

	tr, err := t.stt.Transcribe(ctx, video.Name, audio)
	if err != nil {
		return job.Result{}, err
	}
	if strings.TrimSpace(tr.Text) == "" {
		return job.Result{}, executor.Permanent(errors.New("speech recognition produced no text"))
	}
	tr.Source = video.Name

	data, err := json.Marshal(tr)
	if err != nil {
		return job.Result{}, executor.Permanent(err)
	}
	transcriptID := id.NewTranscriptID()
	if err := artifact.PutBytes(ctx, t.artifacts, artifact.TranscriptKey(transcriptID), data, artifact.ContentTypeJSON); err != nil {
		return job.Result{}, executor.Transient(err)
	}
	if err := t.subjects.CreateSubject(ctx, subject.NewTranscript(transcriptID, video.ID)); err != nil {
		return job.Result{}, executor.Transient(err)
	}

	t.logger.Info("transcript stored",
		slog.String("job_id", j.ID.String()),
		slog.String("subject_id", video.ID.String()),
		slog.String("transcript_id", transcriptID.String()),
		slog.Int("segments", len(tr.Segments)),
	)
	return job.TranscriptResult(transcriptID), nil
}

// lookupError classifies a subject lookup failure. A missing subject will
// not appear on retry.
func lookupError(err error) error {
	if errors.Is(err, mediaflow.ErrSubjectNotFound) {
		return executor.Permanent(err)
	}
	return executor.Transient(err)
}
