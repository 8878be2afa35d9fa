// Package postgres implements store.Store using pgx/v5 with raw SQL.
//
// Claims use UPDATE … WHERE id = (SELECT … FOR UPDATE SKIP LOCKED LIMIT 1),
// so concurrent workers never block on, or double-claim, the same row. A
// partial unique index on (subject_id, job_type) over pending and
// in_progress rows enforces one active job per subject. Migrations are
// embedded SQL files tracked in mediaflow_migrations.
package postgres
