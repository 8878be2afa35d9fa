// Package pipeline provides the executors for the two processing stages
// and the extension that chains them. Speech recognition and summarization
// themselves sit behind SpeechToText and Summarizer; HTTP clients for a
// Whisper-compatible service and an Ollama server are included.
package pipeline

import (
	"context"
	"io"
	"regexp"
	"strings"
)

// Segment is a timed span of a transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the stored output of the transcription stage.
type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
	// Source is the artifact key of the media that was transcribed.
	Source string `json:"source"`
}

// SpeechToText turns audio into text.
type SpeechToText interface {
	Transcribe(ctx context.Context, name string, audio io.Reader) (Transcript, error)
}

// Summarizer turns a transcript into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// SpeechToTextFunc adapts a function to SpeechToText.
type SpeechToTextFunc func(ctx context.Context, name string, audio io.Reader) (Transcript, error)

// Transcribe implements SpeechToText.
func (f SpeechToTextFunc) Transcribe(ctx context.Context, name string, audio io.Reader) (Transcript, error) {
	return f(ctx, name, audio)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, text string) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// CleanSummary removes reasoning blocks some models emit before their
// answer and trims whitespace.
func CleanSummary(s string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))
}
