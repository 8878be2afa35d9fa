package mediaflow

import "time"

// Config holds configuration for a worker process.
type Config struct {
	// MaxWorkers is the number of jobs executed concurrently.
	MaxWorkers int `koanf:"max_workers"`

	// QueueDepth is how many claimed jobs may wait for a free slot.
	// Zero means MaxWorkers.
	QueueDepth int `koanf:"queue_depth"`

	// PollInterval is how often each job type is polled for pending work.
	PollInterval time.Duration `koanf:"poll_interval"`

	// ShutdownTimeout is the maximum time to wait for in-flight jobs on stop.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// EventClaimRate limits claims triggered by broker events, per second.
	EventClaimRate float64 `koanf:"event_claim_rate"`

	// EventClaimBurst is the burst size for event-triggered claims.
	EventClaimBurst int `koanf:"event_claim_burst"`

	// StuckAfter is how long a job may stay in_progress before it is
	// reported as stuck. Zero disables reporting.
	StuckAfter time.Duration `koanf:"stuck_after"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:      2,
		PollInterval:    5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		EventClaimRate:  10,
		EventClaimBurst: 5,
		StuckAfter:      time.Hour,
	}
}

// Slots returns the total number of reservations a pool hands out:
// running jobs plus queued jobs.
func (c Config) Slots() int {
	depth := c.QueueDepth
	if depth <= 0 {
		depth = c.MaxWorkers
	}
	return c.MaxWorkers + depth
}
