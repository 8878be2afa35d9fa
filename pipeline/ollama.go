package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Compile-time interface check.
var _ Summarizer = (*OllamaClient)(nil)

// DefaultPrompt asks for structured meeting notes. %s receives the
// transcript.
const DefaultPrompt = `Write concise meeting notes for the transcript below the line.

Use Markdown with these sections:
1. **Overview**: one sentence.
2. **Participants**
3. **Key Topics**
4. **Decisions**
5. **Action Items**: owner, task and due date when stated.
6. **Open Questions / Risks**

Leave out greetings and small talk. Write "None stated" for an empty section.

---

%s
`

// OllamaConfig configures an OllamaClient.
type OllamaConfig struct {
	BaseURL     string        `koanf:"base_url"`
	Model       string        `koanf:"model"`
	Prompt      string        `koanf:"prompt"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
}

// OllamaClient summarizes through the Ollama /api/generate endpoint.
type OllamaClient struct {
	client *resty.Client
	cfg    OllamaConfig
}

// NewOllamaClient creates a client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Minute
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &OllamaClient{client: client, cfg: cfg}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// Summarize implements Summarizer.
func (o *OllamaClient) Summarize(ctx context.Context, text string) (string, error) {
	req := ollamaRequest{
		Model:  o.cfg.Model,
		Prompt: strings.Replace(o.cfg.Prompt, "%s", text, 1),
		Options: ollamaOptions{
			Temperature: o.cfg.Temperature,
			NumPredict:  o.cfg.MaxTokens,
		},
	}

	var out ollamaResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/api/generate")
	if err := responseError("ollama", resp, err); err != nil {
		return "", err
	}
	return CleanSummary(out.Response), nil
}
