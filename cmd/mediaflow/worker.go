package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/mediaflow/engine"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/pipeline"
)

const statsInterval = time.Minute

func workerCmd() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run a worker that claims and executes jobs",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "type",
				Usage:   "Job types to handle (transcription, summarization); default all",
				Sources: cli.EnvVars("MEDIAFLOW_TYPES"),
			},
			&cli.IntFlag{
				Name:  "max-workers",
				Usage: "Jobs executed concurrently",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Interval between poll cycles",
			},
			&cli.BoolFlag{
				Name:  "migrate",
				Usage: "Apply store migrations before starting",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v := cmd.StringSlice("type"); len(v) > 0 {
				cfg.Types = v
			}
			if v := cmd.Int("max-workers"); v > 0 {
				cfg.Worker.MaxWorkers = int(v)
			}
			if v := cmd.Duration("poll-interval"); v > 0 {
				cfg.Worker.PollInterval = v
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg)

			types, err := cfg.JobTypes()
			if err != nil {
				return err
			}
			if len(types) == 0 {
				types = job.Types()
			}
			policies, err := cfg.RetryPolicies()
			if err != nil {
				return err
			}
			if slices.Contains(types, job.TypeTranscription) && cfg.Whisper.BaseURL == "" {
				return errors.New("whisper.base_url is required for transcription workers")
			}

			st, err := openStore(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()
			if cmd.Bool("migrate") {
				if err := st.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			media, err := openArtifacts(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open artifacts: %w", err)
			}
			bus, err := openBus(cfg, logger)
			if err != nil {
				return fmt.Errorf("open broker: %w", err)
			}

			eng, err := engine.New(
				engine.WithStore(st),
				engine.WithBus(bus),
				engine.WithConfig(cfg.Worker),
				engine.WithLogger(logger),
				engine.WithTypes(types...),
				engine.WithRetryPolicies(policies),
				engine.WithGroupName(cfg.Broker.Group),
			)
			if err != nil {
				_ = bus.Close()
				return err
			}
			abort := func(err error) error {
				_ = eng.Stop(context.WithoutCancel(ctx))
				return err
			}

			if slices.Contains(types, job.TypeTranscription) {
				stt := pipeline.NewWhisperClient(cfg.Whisper)
				if err := eng.Register(job.TypeTranscription, pipeline.NewTranscription(st, media, stt, logger)); err != nil {
					return abort(err)
				}
			}
			if slices.Contains(types, job.TypeSummarization) {
				llm := pipeline.NewOllamaClient(cfg.Ollama)
				if err := eng.Register(job.TypeSummarization, pipeline.NewSummarization(media, llm, logger)); err != nil {
					return abort(err)
				}
			}

			if err := eng.Start(ctx); err != nil {
				return abort(fmt.Errorf("start worker: %w", err))
			}
			logger.Info("worker running",
				slog.String("worker_id", eng.WorkerID().String()),
				slog.Any("types", types),
				slog.String("store", cfg.Store.Driver),
				slog.String("broker", cfg.Broker.Driver),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logStats(gctx, eng, logger)
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutdown signal received")
				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Worker.ShutdownTimeout)
				defer cancel()
				return eng.Stop(stopCtx)
			})
			return g.Wait()
		},
	}
}

// logStats logs a runtime snapshot every statsInterval until ctx ends.
func logStats(ctx context.Context, eng *engine.Engine, logger *slog.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := eng.Stats()
			logger.Info("worker stats",
				slog.Int("busy", s.Pool.Busy),
				slog.Int("queued", s.Pool.Queued),
				slog.Int64("claims", s.Poller.Claims),
				slog.Int64("event_claims", s.Poller.EventClaims),
				slog.Int64("publish_failures", s.PublishFailures),
			)
		}
	}
}
