package mediaflow

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("mediaflow: no store configured")
	ErrStoreClosed = errors.New("mediaflow: store closed")

	// Not found errors.
	ErrJobNotFound     = errors.New("mediaflow: job not found")
	ErrSubjectNotFound = errors.New("mediaflow: subject not found")

	// Conflict errors.
	ErrConflict = errors.New("mediaflow: active job already exists for subject")

	// State errors.
	ErrInvalidState   = errors.New("mediaflow: invalid state transition")
	ErrInvalidSubject = errors.New("mediaflow: subject kind does not match job type")

	// Dispatch errors.
	ErrUnknownJobType = errors.New("mediaflow: no executor registered for job type")
	ErrPoolStopped    = errors.New("mediaflow: worker pool stopped")

	// Broker errors. Never returned from producer paths; logged only.
	ErrBrokerUnavailable = errors.New("mediaflow: broker unavailable")
)
