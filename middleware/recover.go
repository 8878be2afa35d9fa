package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/mediaflow/executor"
	"github.com/xraph/mediaflow/job"
)

// Recover returns middleware that turns an executor panic into a permanent
// failure. A panic means the executor hit a bug for this input, so
// retrying the same subject would panic again.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("executor panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("job_type", string(j.Type)),
					slog.String("subject_id", j.SubjectID.String()),
					slog.Int("attempts", j.Attempts),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = executor.Permanent(fmt.Errorf("panic in %s job %s: %v", j.Type, j.ID, r))
			}
		}()
		return next(ctx)
	}
}
