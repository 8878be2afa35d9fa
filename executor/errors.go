package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/xraph/mediaflow/job"
)

// classified tags an error with its class.
type classified struct {
	class job.ErrorClass
	err   error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Transient marks err as a failure that may succeed on retry, such as a
// network blip or an overloaded upstream.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: job.ClassTransient, err: err}
}

// Permanent marks err as a failure that will not succeed on retry, such
// as a corrupt file or invalid input.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: job.ClassPermanent, err: err}
}

// Classify returns the class of err. Explicitly classified errors keep
// their class. Otherwise cancellation, timeouts, refused or reset
// connections and other temporary network errors are transient; everything
// else is permanent.
func Classify(err error) job.ErrorClass {
	var c *classified
	if errors.As(err, &c) {
		return c.class
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return job.ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return job.ClassTransient
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return job.ClassTransient
	}
	return job.ClassPermanent
}

// Details builds the error record stored on a failed job.
func Details(err error, now time.Time) job.ErrorDetails {
	return job.ErrorDetails{
		Class:    Classify(err),
		Message:  err.Error(),
		Kind:     kindOf(err),
		FailedAt: now.UTC(),
	}
}

// kindOf names the concrete type of the root cause, skipping the
// classification wrapper.
func kindOf(err error) string {
	var c *classified
	if errors.As(err, &c) {
		err = c.err
	}
	return fmt.Sprintf("%T", err)
}
