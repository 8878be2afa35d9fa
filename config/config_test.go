package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xraph/mediaflow/config"
	"github.com/xraph/mediaflow/job"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediaflow.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.MaxWorkers != 2 {
		t.Errorf("max_workers = %d, want 2", cfg.Worker.MaxWorkers)
	}
	if cfg.Worker.PollInterval != 5*time.Second {
		t.Errorf("poll_interval = %s, want 5s", cfg.Worker.PollInterval)
	}
	if cfg.Worker.StuckAfter != time.Hour {
		t.Errorf("stuck_after = %s, want 1h", cfg.Worker.StuckAfter)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Broker.Driver != "none" || cfg.Artifacts.Driver != "dir" {
		t.Errorf("drivers = %s/%s/%s", cfg.Store.Driver, cfg.Broker.Driver, cfg.Artifacts.Driver)
	}
	if cfg.Ollama.MaxTokens != 512 || cfg.Ollama.Timeout != 15*time.Minute {
		t.Errorf("ollama = %+v", cfg.Ollama)
	}
	types, _ := cfg.JobTypes()
	if len(types) != 0 {
		t.Errorf("types = %v, want all (empty)", types)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
types = ["summarization"]

[worker]
max_workers = 4
poll_interval = "2s"

[store]
driver = "postgres"
dsn = "postgres://localhost/mediaflow"

[broker]
driver = "redis"
url = "redis://localhost:6379/0"

[artifacts]
driver = "s3"

[artifacts.s3]
endpoint = "localhost:9000"
bucket = "media"

[retry.summarization]
enabled = true
max_attempts = 3

[retry.summarization.backoff]
kind = "constant"
initial = "10s"
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.MaxWorkers != 4 || cfg.Worker.PollInterval != 2*time.Second {
		t.Errorf("worker = %+v", cfg.Worker)
	}
	// Unset keys keep their defaults.
	if cfg.Worker.ShutdownTimeout != 30*time.Second {
		t.Errorf("shutdown_timeout = %s, want default 30s", cfg.Worker.ShutdownTimeout)
	}
	if cfg.Store.Driver != "postgres" || cfg.Broker.URL != "redis://localhost:6379/0" {
		t.Errorf("store/broker = %+v / %+v", cfg.Store, cfg.Broker)
	}
	if cfg.Artifacts.S3.Bucket != "media" {
		t.Errorf("s3 = %+v", cfg.Artifacts.S3)
	}

	types, err := cfg.JobTypes()
	if err != nil || len(types) != 1 || types[0] != job.TypeSummarization {
		t.Fatalf("JobTypes = %v, %v", types, err)
	}

	policies, err := cfg.RetryPolicies()
	if err != nil {
		t.Fatalf("RetryPolicies: %v", err)
	}
	p := policies.For(job.TypeSummarization)
	if !p.Enabled || p.MaxAttempts != 3 {
		t.Errorf("policy = %+v", p)
	}
	if d := p.Backoff.Delay(1); d != 10*time.Second {
		t.Errorf("backoff delay = %s, want 10s", d)
	}
	if policies.For(job.TypeTranscription).Enabled {
		t.Error("transcription retry should default to disabled")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
[worker]
max_workers = 4
`)
	t.Setenv("MEDIAFLOW_WORKER__MAX_WORKERS", "8")
	t.Setenv("MEDIAFLOW_STORE__DRIVER", "memory")
	t.Setenv("MEDIAFLOW_WHISPER__BASE_URL", "http://whisper:8000/v1")
	t.Setenv("MEDIAFLOW_LOGGING__LEVEL", "")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.MaxWorkers != 8 {
		t.Errorf("max_workers = %d, want 8", cfg.Worker.MaxWorkers)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store.driver = %q", cfg.Store.Driver)
	}
	if cfg.Whisper.BaseURL != "http://whisper:8000/v1" {
		t.Errorf("whisper.base_url = %q", cfg.Whisper.BaseURL)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("empty env should not override: level = %q", cfg.Logging.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown store", "[store]\ndriver = \"cassandra\"\n", "store.driver"},
		{"redis without url", "[broker]\ndriver = \"redis\"\n", "broker.url"},
		{"no workers", "[worker]\nmax_workers = 0\n", "max_workers"},
		{"mongo without database", "[store]\ndriver = \"mongo\"\ndsn = \"mongodb://localhost\"\n", "store.database"},
		{"unknown type", "types = [\"translation\"]\n", "translation"},
		{"retry unknown type", "[retry.translation]\nenabled = true\n", "retry.translation"},
		{"bad backoff", "[retry.transcription.backoff]\nkind = \"fibonacci\"\n", "fibonacci"},
		{"s3 without bucket", "[artifacts]\ndriver = \"s3\"\n", "bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := config.Config{Logging: config.LoggingConfig{Level: tt.in}}
		if got := cfg.Level(); got != tt.want {
			t.Errorf("Level(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
