// Package config loads worker process configuration. Values are layered:
// built-in defaults, then an optional TOML file, then MEDIAFLOW_ environment
// variables. A double underscore in a variable name separates nesting
// levels, so MEDIAFLOW_WORKER__MAX_WORKERS sets worker.max_workers.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/artifact/s3"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/pipeline"
	"github.com/xraph/mediaflow/retry"
)

// EnvPrefix is the prefix of every environment variable Load reads.
const EnvPrefix = "MEDIAFLOW_"

// Config is the whole mediaflow configuration: defaults, then the TOML
// file, then MEDIAFLOW_ environment variables.
type Config struct {
	Worker    mediaflow.Config        `koanf:"worker"`
	Types     []string                `koanf:"types"`
	Store     StoreConfig             `koanf:"store"`
	Broker    BrokerConfig            `koanf:"broker"`
	Retry     map[string]retry.Config `koanf:"retry"`
	Artifacts ArtifactsConfig         `koanf:"artifacts"`
	Whisper   pipeline.WhisperConfig  `koanf:"whisper"`
	Ollama    pipeline.OllamaConfig   `koanf:"ollama"`
	Logging   LoggingConfig           `koanf:"logging"`
}

// StoreConfig selects the job store backend. DSN is a file path for
// sqlite and a connection URI for postgres and mongo.
type StoreConfig struct {
	Driver   string `koanf:"driver"`
	DSN      string `koanf:"dsn"`
	Database string `koanf:"database"`
}

// BrokerConfig selects the event bus. Driver "none" runs on polling alone.
type BrokerConfig struct {
	Driver        string        `koanf:"driver"`
	URL           string        `koanf:"url"`
	Group         string        `koanf:"group"`
	Consumer      string        `koanf:"consumer"`
	Block         time.Duration `koanf:"block"`
	ClaimIdle     time.Duration `koanf:"claim_idle"`
	MaxLen        int64         `koanf:"max_len"`
	MaxDeliveries int64         `koanf:"max_deliveries"`
}

// ArtifactsConfig selects where media, transcripts and summaries live.
type ArtifactsConfig struct {
	Driver string    `koanf:"driver"`
	Dir    string    `koanf:"dir"`
	S3     s3.Config `koanf:"s3"`
}

// LoggingConfig sets the slog level (debug, info, warn, error) and the
// handler format (text or json).
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads config from the TOML file at path (if not empty) and overlays
// environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	// Empty variables are skipped so they do not blank out file values.
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		return envKey(key), value
	}), nil); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps MEDIAFLOW_STORE__DSN to store.dsn.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.Worker.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("worker.max_workers must be >= 1, got %d", c.Worker.MaxWorkers))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker.poll_interval must be positive, got %s", c.Worker.PollInterval))
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for %s", c.Store.Driver))
		}
	case "mongo":
		if c.Store.DSN == "" || c.Store.Database == "" {
			errs = append(errs, errors.New("store.dsn and store.database are required for mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	switch c.Broker.Driver {
	case "none", "local":
	case "redis":
		if c.Broker.URL == "" {
			errs = append(errs, errors.New("broker.url is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("broker.driver: unknown driver %q", c.Broker.Driver))
	}
	switch c.Artifacts.Driver {
	case "dir":
		if c.Artifacts.Dir == "" {
			errs = append(errs, errors.New("artifacts.dir is required"))
		}
	case "s3":
		if c.Artifacts.S3.Bucket == "" {
			errs = append(errs, errors.New("artifacts.s3.bucket is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("artifacts.driver: unknown driver %q", c.Artifacts.Driver))
	}
	if _, err := c.JobTypes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.RetryPolicies(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// JobTypes returns the job types this worker handles. Empty means all.
func (c *Config) JobTypes() ([]job.Type, error) {
	types := make([]job.Type, 0, len(c.Types))
	for _, s := range c.Types {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		t, err := job.ParseType(s)
		if err != nil {
			return nil, fmt.Errorf("types: %w", err)
		}
		types = append(types, t)
	}
	return types, nil
}

// RetryPolicies builds the automatic retry policies keyed by job type.
func (c *Config) RetryPolicies() (retry.Policies, error) {
	policies := make(retry.Policies, len(c.Retry))
	for name, rc := range c.Retry {
		t, err := job.ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("retry.%s: %w", name, err)
		}
		p, err := retry.FromConfig(rc)
		if err != nil {
			return nil, fmt.Errorf("retry.%s: %w", name, err)
		}
		policies[t] = p
	}
	return policies, nil
}

// Level parses Logging.Level, defaulting to info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
