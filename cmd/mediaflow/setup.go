package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/xraph/mediaflow/artifact"
	"github.com/xraph/mediaflow/artifact/s3"
	"github.com/xraph/mediaflow/config"
	"github.com/xraph/mediaflow/engine"
	"github.com/xraph/mediaflow/event"
	"github.com/xraph/mediaflow/event/redisbus"
	"github.com/xraph/mediaflow/store"
	"github.com/xraph/mediaflow/store/memory"
	"github.com/xraph/mediaflow/store/mongo"
	"github.com/xraph/mediaflow/store/postgres"
	"github.com/xraph/mediaflow/store/sqlite"
)

// loadConfig reads the config file named by --config and applies global
// flag overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	var h slog.Handler
	if cfg.Logging.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(ctx, cfg.Store.DSN, sqlite.WithLogger(logger))
	case "postgres":
		return postgres.New(ctx, cfg.Store.DSN, postgres.WithLogger(logger))
	case "mongo":
		return mongo.Connect(ctx, cfg.Store.DSN, cfg.Store.Database, mongo.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openBus(cfg *config.Config, logger *slog.Logger) (event.Bus, error) {
	switch cfg.Broker.Driver {
	case "none":
		return event.Noop(), nil
	case "local":
		return event.NewLocalBus(event.WithLogger(logger)), nil
	case "redis":
		opts := []redisbus.Option{
			redisbus.WithLogger(logger),
			redisbus.WithBlock(cfg.Broker.Block),
			redisbus.WithClaimIdle(cfg.Broker.ClaimIdle),
			redisbus.WithMaxLen(cfg.Broker.MaxLen),
			redisbus.WithMaxDeliveries(cfg.Broker.MaxDeliveries),
		}
		if cfg.Broker.Consumer != "" {
			opts = append(opts, redisbus.WithConsumer(cfg.Broker.Consumer))
		}
		return redisbus.Dial(cfg.Broker.URL, opts...)
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}

func openArtifacts(ctx context.Context, cfg *config.Config) (artifact.Store, error) {
	switch cfg.Artifacts.Driver {
	case "dir":
		return artifact.NewDir(cfg.Artifacts.Dir)
	case "s3":
		st, err := s3.New(ctx, cfg.Artifacts.S3)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown artifacts driver %q", cfg.Artifacts.Driver)
	}
}

// withEngine opens the store and bus, builds an engine that is not
// started, runs fn and closes everything. Producer and operator commands
// use it; their events reach running workers through the bus.
func withEngine(ctx context.Context, cmd *cli.Command, fn func(context.Context, *engine.Engine) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	bus, err := openBus(cfg, logger)
	if err != nil {
		return fmt.Errorf("open broker: %w", err)
	}

	eng, err := engine.New(
		engine.WithStore(st),
		engine.WithBus(bus),
		engine.WithConfig(cfg.Worker),
		engine.WithGroupName(cfg.Broker.Group),
		engine.WithLogger(logger),
		engine.WithFollowUp(false),
	)
	if err != nil {
		_ = bus.Close()
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Worker.ShutdownTimeout)
		defer cancel()
		_ = eng.Stop(stopCtx)
	}()

	return fn(ctx, eng)
}
