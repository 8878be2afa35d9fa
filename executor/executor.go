// Package executor defines the pluggable unit of work run for a claimed
// job, the error classes an executor reports, and the registry that maps
// job types to executors.
package executor

import (
	"context"

	"github.com/xraph/mediaflow/job"
)

// Executor performs the work for one claimed job. It returns the result
// reference to record on success. Errors should be wrapped with Transient
// or Permanent; unclassified errors are classified by Classify.
type Executor interface {
	Execute(ctx context.Context, j *job.Job) (job.Result, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, j *job.Job) (job.Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, j *job.Job) (job.Result, error) {
	return f(ctx, j)
}
