// Package id defines TypeID-based identifiers for mediaflow entities.
//
// Every entity uses a single ID struct whose prefix names the entity kind:
// "job_…" for jobs, "vid_…" for videos, "tr_…" for transcripts. IDs are
// K-sortable (UUIDv7-based) and URL-safe.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity kind encoded in a TypeID.
type Prefix string

const (
	PrefixJob        Prefix = "job"
	PrefixWorker     Prefix = "wkr"
	PrefixVideo      Prefix = "vid"
	PrefixTranscript Prefix = "tr"
	PrefixSummary    Prefix = "sum"
	PrefixEvent      Prefix = "evt"
)

// ID wraps a TypeID. The zero value is Nil.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates an ID with the given prefix. It panics on an invalid prefix.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string such as "job_01h2xcejqtf2nbrexx3vqjhp41".
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks that it carries one of the allowed
// prefixes.
func ParseWithPrefix(s string, allowed ...Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	for _, p := range allowed {
		if parsed.Prefix() == p {
			return parsed, nil
		}
	}
	return Nil, fmt.Errorf("id: %q has prefix %q, want one of %v", s, parsed.Prefix(), allowed)
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// ──────────────────────────────────────────────────
// Aliases
// ──────────────────────────────────────────────────

// JobID identifies a job (prefix "job").
type JobID = ID

// WorkerID identifies a worker process (prefix "wkr").
type WorkerID = ID

// SubjectID identifies the entity a job operates on: a video ("vid") for
// transcription or a transcript ("tr") for summarization.
type SubjectID = ID

// EventID identifies a broker event (prefix "evt").
type EventID = ID

func NewJobID() ID        { return New(PrefixJob) }
func NewWorkerID() ID     { return New(PrefixWorker) }
func NewVideoID() ID      { return New(PrefixVideo) }
func NewTranscriptID() ID { return New(PrefixTranscript) }
func NewSummaryID() ID    { return New(PrefixSummary) }
func NewEventID() ID      { return New(PrefixEvent) }

func ParseJobID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixJob) }
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// ParseSubjectID accepts video and transcript IDs.
func ParseSubjectID(s string) (ID, error) {
	return ParseWithPrefix(s, PrefixVideo, PrefixTranscript)
}

// ──────────────────────────────────────────────────
// Methods
// ──────────────────────────────────────────────────

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// Compare orders IDs by their string form, which for IDs sharing a prefix is
// creation order.
func (i ID) Compare(o ID) int {
	a, b := i.String(), o.String()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
