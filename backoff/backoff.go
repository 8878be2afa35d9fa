// Package backoff provides delay strategies for automatic job retries and
// event redelivery. All strategies are stateless and safe for concurrent
// use.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return time.Duration(exponential(e.Initial, e.Max, attempt))
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base so
// workers failing together do not retry in lockstep.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := exponential(e.Initial, e.Max, attempt)
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// exponential returns Initial * 2^(attempt-1) as a float, capped at Max
// (or at 2^62ns, about 146 years, when Max is zero).
func exponential(initial, maxDelay time.Duration, attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := float64(int64(1) << 62)
	if maxDelay > 0 {
		ceiling = float64(maxDelay)
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if d > ceiling || math.IsInf(d, 0) {
		return ceiling
	}
	return d
}

// ──────────────────────────────────────────────────
// Construction from configuration
// ──────────────────────────────────────────────────

// Kind names a strategy in configuration files.
type Kind string

const (
	KindConstant    Kind = "constant"
	KindExponential Kind = "exponential"
	KindJitter      Kind = "jitter"
)

// Config describes a strategy in configuration.
type Config struct {
	Kind    Kind          `koanf:"kind"`
	Initial time.Duration `koanf:"initial"`
	Max     time.Duration `koanf:"max"`
}

// New builds the strategy described by cfg. An empty kind selects the
// default strategy.
func New(cfg Config) (Strategy, error) {
	if cfg.Initial < 0 || cfg.Max < 0 {
		return nil, fmt.Errorf("backoff: negative delay in %+v", cfg)
	}
	switch Kind(strings.ToLower(string(cfg.Kind))) {
	case "":
		return DefaultStrategy(), nil
	case KindConstant:
		return NewConstant(cfg.Initial), nil
	case KindExponential:
		return NewExponential(cfg.Initial, cfg.Max), nil
	case KindJitter:
		return NewExponentialWithJitter(cfg.Initial, cfg.Max), nil
	default:
		return nil, fmt.Errorf("backoff: unknown kind %q", cfg.Kind)
	}
}

// DefaultStrategy returns the default backoff for automatic retries:
// ExponentialWithJitter with 5s initial and 5m max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(5*time.Second, 5*time.Minute)
}
