// Package retry decides whether a failed job is reset to pending
// automatically. Retrying is off unless configured for a job type; an
// operator retry is always available regardless of policy.
package retry

import (
	"fmt"
	"time"

	"github.com/xraph/mediaflow/backoff"
	"github.com/xraph/mediaflow/job"
)

// Policy is the automatic retry rule for one job type.
type Policy struct {
	// Enabled turns automatic retry on.
	Enabled bool
	// MaxAttempts caps total executions, including the first. Zero means
	// a single automatic retry.
	MaxAttempts int
	// Backoff computes the delay before each automatic retry.
	Backoff backoff.Strategy
}

// Config is the configuration form of a Policy.
type Config struct {
	Enabled     bool           `koanf:"enabled"`
	MaxAttempts int            `koanf:"max_attempts"`
	Backoff     backoff.Config `koanf:"backoff"`
}

// FromConfig builds a Policy.
func FromConfig(cfg Config) (Policy, error) {
	if cfg.MaxAttempts < 0 {
		return Policy{}, fmt.Errorf("retry: max_attempts must be >= 0, got %d", cfg.MaxAttempts)
	}
	s, err := backoff.New(cfg.Backoff)
	if err != nil {
		return Policy{}, fmt.Errorf("retry: %w", err)
	}
	return Policy{Enabled: cfg.Enabled, MaxAttempts: cfg.MaxAttempts, Backoff: s}, nil
}

// Decide reports whether the failed job j should be retried and after
// what delay. Only transient failures are retried. Attempts counts prior
// resets, so the job has run Attempts+1 times.
func (p Policy) Decide(j *job.Job) (time.Duration, bool) {
	if !p.Enabled || j.Error == nil || !j.Error.Retryable() {
		return 0, false
	}
	limit := p.MaxAttempts
	if limit == 0 {
		limit = 2
	}
	runs := j.Attempts + 1
	if runs >= limit {
		return 0, false
	}
	s := p.Backoff
	if s == nil {
		s = backoff.DefaultStrategy()
	}
	return s.Delay(runs), true
}

// Policies maps job types to policies. Types without an entry are never
// retried automatically.
type Policies map[job.Type]Policy

// For returns the policy for t.
func (ps Policies) For(t job.Type) Policy {
	return ps[t]
}
