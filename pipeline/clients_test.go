package pipeline_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xraph/mediaflow/executor"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/pipeline"
)

func TestWhisperClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if r.FormValue("model") != "large-v3" || r.FormValue("response_format") != "verbose_json" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			if header.Filename != "standup.mp4" || string(data) != "frames" {
				t.Errorf("file = %s %q", header.Filename, data)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":" hello there ","language":"en","segments":[{"start":0,"end":2.5,"text":" hello there "}]}`)
	}))
	defer srv.Close()

	c := pipeline.NewWhisperClient(pipeline.WhisperConfig{BaseURL: srv.URL + "/v1/", APIKey: "secret", Model: "large-v3"})
	tr, err := c.Transcribe(context.Background(), "standup.mp4", strings.NewReader("frames"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello there" || tr.Language != "en" {
		t.Fatalf("transcript = %+v", tr)
	}
	if len(tr.Segments) != 1 || tr.Segments[0].Text != "hello there" {
		t.Fatalf("segments = %+v", tr.Segments)
	}
	if tr.Duration != 2.5 {
		t.Fatalf("Duration = %v, want derived from last segment", tr.Duration)
	}
}

func TestOllamaClient_Summarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Model   string `json:"model"`
			Prompt  string `json:"prompt"`
			Stream  bool   `json:"stream"`
			Options struct {
				NumPredict int `json:"num_predict"`
			} `json:"options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Model != "llama3" || body.Stream || body.Options.NumPredict != 512 {
			t.Errorf("request = %+v", body)
		}
		if !strings.Contains(body.Prompt, "we ship friday") {
			t.Errorf("prompt does not contain transcript: %q", body.Prompt)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"response":"<think>planning</think>\n**Overview**: ship friday","done":true}`)
	}))
	defer srv.Close()

	c := pipeline.NewOllamaClient(pipeline.OllamaConfig{BaseURL: srv.URL, Model: "llama3"})
	got, err := c.Summarize(context.Background(), "we ship friday")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "**Overview**: ship friday" {
		t.Fatalf("summary = %q", got)
	}
}

func TestClients_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		wantClass job.ErrorClass
	}{
		{http.StatusBadRequest, job.ClassPermanent},
		{http.StatusNotFound, job.ClassPermanent},
		{http.StatusTooManyRequests, job.ClassTransient},
		{http.StatusInternalServerError, job.ClassTransient},
		{http.StatusServiceUnavailable, job.ClassTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := pipeline.NewOllamaClient(pipeline.OllamaConfig{BaseURL: srv.URL, Model: "m"}).
				Summarize(context.Background(), "text")
			if got := executor.Classify(err); got != tt.wantClass {
				t.Fatalf("ollama class = %s, want %s (err %v)", got, tt.wantClass, err)
			}

			_, err = pipeline.NewWhisperClient(pipeline.WhisperConfig{BaseURL: srv.URL}).
				Transcribe(context.Background(), "a.wav", strings.NewReader("x"))
			if got := executor.Classify(err); got != tt.wantClass {
				t.Fatalf("whisper class = %s, want %s (err %v)", got, tt.wantClass, err)
			}
		})
	}
}

func TestClients_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := pipeline.NewOllamaClient(pipeline.OllamaConfig{BaseURL: url, Model: "m"}).
		Summarize(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := executor.Classify(err); got != job.ClassTransient {
		t.Fatalf("class = %s, want transient (err %v)", got, err)
	}
}
