package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the mediaflow sqlite store.
var Migrations = migrate.NewGroup("mediaflow")

func init() {
	Migrations.MustRegister(
		// 001: subjects and jobs. Timestamps are unix nanoseconds so equal
		// created_at values order by id.
		&migrate.Migration{
			Name:    "create_subjects_and_jobs",
			Version: "20250301120000",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				for _, stmt := range []string{
					`CREATE TABLE IF NOT EXISTS mediaflow_subjects (
						id          TEXT PRIMARY KEY,
						kind        TEXT NOT NULL,
						parent_id   TEXT,
						name        TEXT NOT NULL DEFAULT '',
						created_at  INTEGER NOT NULL,
						updated_at  INTEGER NOT NULL
					)`,
					`CREATE TABLE IF NOT EXISTS mediaflow_jobs (
						id               TEXT PRIMARY KEY,
						subject_id       TEXT NOT NULL,
						job_type         TEXT NOT NULL,
						status           TEXT NOT NULL DEFAULT 'pending',
						attempts         INTEGER NOT NULL DEFAULT 0,
						worker_id        TEXT,
						error_details    TEXT,
						result_kind      TEXT,
						result_ref       TEXT,
						started_at       INTEGER,
						completed_at     INTEGER,
						processing_time  INTEGER NOT NULL DEFAULT 0,
						created_at       INTEGER NOT NULL,
						updated_at       INTEGER NOT NULL
					)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS mediaflow_jobs_one_active
						ON mediaflow_jobs (subject_id, job_type)
						WHERE status IN ('pending', 'in_progress')`,
					`CREATE INDEX IF NOT EXISTS mediaflow_jobs_claim
						ON mediaflow_jobs (job_type, status, created_at, id)`,
				} {
					if _, err := exec.Exec(ctx, stmt); err != nil {
						return err
					}
				}
				return nil
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				if _, err := exec.Exec(ctx, `DROP TABLE IF EXISTS mediaflow_jobs`); err != nil {
					return err
				}
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS mediaflow_subjects`)
				return err
			},
		},
	)
}
