// Package artifact stores the media and text the pipeline stages read and
// write: source videos, transcripts and summaries. Keys are slash-separated
// paths relative to the store root.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/xraph/mediaflow/id"
)

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("mediaflow/artifact: not found")

// Store reads and writes artifacts.
type Store interface {
	// Put writes r under key, replacing any existing artifact. size may be
	// -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get opens the artifact under key. It returns ErrNotFound for unknown
	// keys. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Content types used by the pipeline.
const (
	ContentTypeJSON     = "application/json"
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
)

// TranscriptKey is where the transcript document for transcriptID lives.
func TranscriptKey(transcriptID id.ID) string {
	return "transcripts/" + transcriptID.String() + ".json"
}

// SummaryKey is where the summary for summaryID lives.
func SummaryKey(summaryID id.ID) string {
	return "summaries/" + summaryID.String() + ".md"
}

// CleanKey normalizes key and confines it to the store root. Leading
// slashes and ".." segments cannot climb above the root.
func CleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))[1:]
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("mediaflow/artifact: empty key %q", key)
	}
	return cleaned, nil
}

// PutBytes writes data under key.
func PutBytes(ctx context.Context, s Store, key string, data []byte, contentType string) error {
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// ReadAll reads the whole artifact under key.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("mediaflow/artifact: read %s: %w", key, err)
	}
	return data, nil
}
