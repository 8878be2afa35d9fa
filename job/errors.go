package job

import "time"

// ErrorClass separates failures worth retrying from failures that will
// repeat on every attempt.
type ErrorClass string

const (
	ClassTransient ErrorClass = "transient"
	ClassPermanent ErrorClass = "permanent"
)

// ErrorDetails is the structured failure recorded on a failed job.
type ErrorDetails struct {
	Class    ErrorClass `json:"class"`
	Message  string     `json:"error"`
	Kind     string     `json:"type,omitempty"`
	FailedAt time.Time  `json:"failed_at"`
}

// Retryable reports whether the failure is worth an automatic retry.
func (d ErrorDetails) Retryable() bool {
	return d.Class == ClassTransient
}
