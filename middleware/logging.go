package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/mediaflow/job"
)

// Logging returns middleware that logs each execution of a stage. Failures
// carry their error class: transient ones log at Warn since a retry policy
// or operator can rerun them, permanent ones at Error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		log := logger.With(
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("subject_id", j.SubjectID.String()),
			slog.Int("attempts", j.Attempts),
		)
		log.Info("job started")

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		switch outcome := Outcome(err); outcome {
		case OutcomeCompleted:
			log.Info("job finished", slog.Duration("elapsed", elapsed))
		case string(job.ClassTransient):
			log.Warn("job failed",
				slog.Duration("elapsed", elapsed),
				slog.String("error_class", outcome),
				slog.String("error", err.Error()),
			)
		default:
			log.Error("job failed",
				slog.Duration("elapsed", elapsed),
				slog.String("error_class", outcome),
				slog.String("error", err.Error()),
			)
		}
		return err
	}
}
