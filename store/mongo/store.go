package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/store"
)

// Collection name constants.
const (
	colJobs     = "mediaflow_jobs"
	colSubjects = "mediaflow_subjects"
)

var _ store.Store = (*Store)(nil)

// Store is a grove ORM implementation of store.Store using the MongoDB
// driver. A Store built with New leaves the *grove.DB to its caller; one
// built with Connect owns it and closes it on Close.
type Store struct {
	db     *grove.DB
	mdb    *mongodriver.MongoDB
	logger *slog.Logger
	clock  func() time.Time
	owned  bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for created_at and the other
// timestamps the store writes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// New wraps a grove handle opened with the mongo driver.
func New(db *grove.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		mdb:    mongodriver.Unwrap(db),
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials uri through the grove mongo driver. An empty database
// falls back to the one named in uri.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	drv := mongodriver.New()
	var mopts []mongodriver.MongoOption
	if database != "" {
		mopts = append(mopts, mongodriver.WithDatabase(database))
	}
	if err := drv.Open(ctx, uri, mopts...); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("mediaflow/mongo: connect: %w", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("mediaflow/mongo: connect: %w", err)
	}
	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// DB returns the underlying *grove.DB for advanced usage.
func (s *Store) DB() *grove.DB {
	return s.db
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongod.Database {
	return s.mdb.Database()
}

// Migrate creates the indexes the store relies on. Index creation is
// idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mediaflow/mongo: migrate %s indexes: %w", col, err)
		}
		s.logger.Debug("ensured indexes", slog.String("collection", col), slog.Int("count", len(models)))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close disconnects the client when the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the clock's UTC time at the millisecond precision BSON
// dates keep.
func (s *Store) now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return mongod.IsDuplicateKeyError(err) ||
		strings.Contains(err.Error(), "E11000")
}

func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// Claim order within a stage.
			{Keys: bson.D{
				{Key: "job_type", Value: 1},
				{Key: "status", Value: 1},
				{Key: "created_at", Value: 1},
				{Key: "_id", Value: 1},
			}},
			// One active job per subject and stage.
			{
				Keys: bson.D{
					{Key: "subject_id", Value: 1},
					{Key: "job_type", Value: 1},
				},
				Options: options.Index().
					SetName("one_active_per_subject").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{
						"status": bson.M{"$in": bson.A{
							string(job.StatusPending),
							string(job.StatusInProgress),
						}},
					}),
			},
		},
		colSubjects: {
			{Keys: bson.D{{Key: "parent_id", Value: 1}}},
		},
	}
}
