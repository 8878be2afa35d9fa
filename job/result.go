package job

import (
	"fmt"

	"github.com/xraph/mediaflow/id"
)

// ResultKind tags the variant held by a Result.
type ResultKind string

const (
	ResultTranscript ResultKind = "transcript"
	ResultSummary    ResultKind = "summary"
)

// Result references the entity a completed job produced.
type Result struct {
	Kind ResultKind `json:"kind"`
	Ref  id.ID      `json:"ref"`
}

// TranscriptResult is the outcome of a transcription job.
func TranscriptResult(transcriptID id.ID) Result {
	return Result{Kind: ResultTranscript, Ref: transcriptID}
}

// SummaryResult is the outcome of a summarization job.
func SummaryResult(summaryID id.ID) Result {
	return Result{Kind: ResultSummary, Ref: summaryID}
}

// ResultKindFor returns the variant a job of type t must produce.
func ResultKindFor(t Type) ResultKind {
	switch t {
	case TypeTranscription:
		return ResultTranscript
	case TypeSummarization:
		return ResultSummary
	}
	return ""
}

// Validate checks that r is the variant a job of type t produces and that
// its ref carries the matching prefix.
func (r Result) Validate(t Type) error {
	want := ResultKindFor(t)
	if r.Kind != want {
		return fmt.Errorf("job: %s job cannot produce a %q result", t, r.Kind)
	}
	prefix := id.PrefixTranscript
	if want == ResultSummary {
		prefix = id.PrefixSummary
	}
	if r.Ref.Prefix() != prefix {
		return fmt.Errorf("job: %s result ref %q must have prefix %q", r.Kind, r.Ref, prefix)
	}
	return nil
}
