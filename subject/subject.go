// Package subject defines the entities jobs operate on: uploaded videos and
// the transcripts produced from them.
package subject

import (
	"context"
	"fmt"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
)

// Kind names what a subject is.
type Kind string

const (
	KindVideo      Kind = "video"
	KindTranscript Kind = "transcript"
)

// Subject is a video or transcript registered with the pipeline.
type Subject struct {
	mediaflow.Entity

	ID id.SubjectID `json:"id"`
	// ParentID links a transcript to the video it was produced from.
	ParentID id.SubjectID `json:"parent_id,omitempty"`
	// Name is the source file name for videos, informational otherwise.
	Name string `json:"name"`
}

// NewVideo registers a video by its source file name.
func NewVideo(name string) *Subject {
	return &Subject{Entity: mediaflow.NewEntity(), ID: id.NewVideoID(), Name: name}
}

// NewTranscript returns a transcript subject with a preallocated ID.
func NewTranscript(transcriptID, videoID id.SubjectID) *Subject {
	return &Subject{
		Entity:   mediaflow.NewEntity(),
		ID:       transcriptID,
		ParentID: videoID,
		Name:     transcriptID.String() + ".txt",
	}
}

// Kind derives the subject kind from its ID prefix.
func (s *Subject) Kind() Kind {
	return KindOf(s.ID)
}

// KindOf derives the subject kind from an ID prefix. It returns "" for IDs
// that are not subjects.
func KindOf(subjectID id.SubjectID) Kind {
	switch subjectID.Prefix() {
	case id.PrefixVideo:
		return KindVideo
	case id.PrefixTranscript:
		return KindTranscript
	}
	return ""
}

// Accepts reports whether a job of type t may run against a subject with
// the given ID. It returns ErrInvalidSubject on mismatch.
func Accepts(subjectID id.SubjectID, t job.Type) error {
	if subjectID.Prefix() != t.SubjectPrefix() {
		return fmt.Errorf("%w: %s job on %q", mediaflow.ErrInvalidSubject, t, subjectID)
	}
	return nil
}

// Store persists subjects. Job stores consult it before creating jobs.
type Store interface {
	// CreateSubject persists a new subject. Creating an existing ID is a
	// no-op.
	CreateSubject(ctx context.Context, s *Subject) error

	// GetSubject returns ErrSubjectNotFound for unknown IDs.
	GetSubject(ctx context.Context, subjectID id.SubjectID) (*Subject, error)
}
