package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // register sqlite migration executor
	"github.com/xraph/grove/migrate"

	"github.com/xraph/mediaflow/store"
)

var _ store.Store = (*Store)(nil)

// Store is a grove ORM implementation of store.Store using the SQLite
// dialect. A Store built with New leaves the *grove.DB to its caller; one
// built with Open owns it and closes it on Close.
type Store struct {
	db     *grove.DB
	sdb    *sqlitedriver.SqliteDB
	logger *slog.Logger
	now    func() time.Time
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
	return func(s *Store) { s.now = now }
}

// New wraps a grove handle opened with the sqlite driver.
func New(db *grove.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		sdb:    sqlitedriver.Unwrap(db),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the database file at path through the grove sqlite driver.
// A busy timeout is added to the DSN so several processes can share the
// file.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	drv := sqlitedriver.New()
	// One connection per process: SQLite has a single writer, and an
	// in-memory database exists only on the connection that created it.
	if err := drv.Open(ctx, dsn(path), driver.WithPoolSize(1)); err != nil {
		return nil, fmt.Errorf("mediaflow/sqlite: open: %w", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("mediaflow/sqlite: open: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mediaflow/sqlite: connect: %w", err)
	}
	s := New(db, opts...)
	s.owned = true
	return s, nil
}

func dsn(path string) string {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)"
}

// DB returns the underlying *grove.DB for advanced usage.
func (s *Store) DB() *grove.DB {
	return s.db
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("mediaflow/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	res, err := orch.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("mediaflow/sqlite: migration failed: %w", err)
	}
	for _, m := range res.Applied {
		s.logger.Info("applied migration", slog.String("version", m.Version), slog.String("name", m.Name))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database if the Store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
