package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/xraph/mediaflow/executor"
)

// Compile-time interface check.
var _ SpeechToText = (*WhisperClient)(nil)

// WhisperConfig configures a WhisperClient.
type WhisperConfig struct {
	// BaseURL of an OpenAI-compatible audio API, e.g. http://whisper:8000/v1.
	BaseURL  string        `koanf:"base_url"`
	APIKey   string        `koanf:"api_key"`
	Model    string        `koanf:"model"`
	Language string        `koanf:"language"`
	Timeout  time.Duration `koanf:"timeout"`
}

// WhisperClient transcribes through the /audio/transcriptions endpoint.
type WhisperClient struct {
	client   *resty.Client
	model    string
	language string
}

// NewWhisperClient creates a client.
func NewWhisperClient(cfg WhisperConfig) *WhisperClient {
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Minute
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &WhisperClient{client: client, model: cfg.Model, language: cfg.Language}
}

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe implements SpeechToText.
func (w *WhisperClient) Transcribe(ctx context.Context, name string, audio io.Reader) (Transcript, error) {
	form := map[string]string{
		"model":           w.model,
		"response_format": "verbose_json",
	}
	if w.language != "" {
		form["language"] = w.language
	}

	var out whisperResponse
	resp, err := w.client.R().
		SetContext(ctx).
		SetFileReader("file", name, audio).
		SetFormData(form).
		SetResult(&out).
		Post("/audio/transcriptions")
	if err := responseError("whisper", resp, err); err != nil {
		return Transcript{}, err
	}
	if out.Text == "" && len(out.Segments) == 0 {
		return Transcript{}, executor.Permanent(errors.New("whisper returned an empty transcript"))
	}

	tr := Transcript{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
		Duration: out.Duration,
		Segments: make([]Segment, 0, len(out.Segments)),
	}
	for _, seg := range out.Segments {
		tr.Segments = append(tr.Segments, Segment{Start: seg.Start, End: seg.End, Text: strings.TrimSpace(seg.Text)})
	}
	if tr.Duration == 0 && len(tr.Segments) > 0 {
		tr.Duration = tr.Segments[len(tr.Segments)-1].End
	}
	return tr, nil
}
