// Package store defines the aggregate persistence interface. The job and
// subject packages define their own store contracts; the composite Store
// composes them. Backends: Postgres, SQLite, MongoDB, and Memory.
package store

import (
	"context"

	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

// Store is the aggregate persistence interface. A single backend implements
// both the job and subject contracts so that job creation can check the
// subject in the same database.
type Store interface {
	job.Store
	subject.Store

	// Migrate creates or updates the schema and indexes.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
