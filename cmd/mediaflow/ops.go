package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/xraph/mediaflow/engine"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the store schema and indexes",
		Action: func(ctx context.Context, cmd *cli.Command) error {
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

			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("store migrated")
			return nil
		},
	}
}

func enqueueCmd() *cli.Command {
	return &cli.Command{
		Name:      "enqueue",
		Usage:     "Register a video and create its transcription job",
		ArgsUsage: "<video-name>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "subject",
				Usage: "Create a job for an existing subject instead of registering a video",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Job type for --subject",
				Value: string(job.TypeSummarization),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withEngine(ctx, cmd, func(ctx context.Context, eng *engine.Engine) error {
				if s := cmd.String("subject"); s != "" {
					subjectID, err := id.ParseSubjectID(s)
					if err != nil {
						return err
					}
					t, err := job.ParseType(cmd.String("type"))
					if err != nil {
						return err
					}
					j, err := eng.Create(ctx, subjectID, t)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(os.Stdout, j.ID)
					return err
				}

				name := cmd.Args().First()
				if name == "" {
					return errors.New("video name is required")
				}
				video, j, err := eng.Submit(ctx, name)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(os.Stdout, "%s\t%s\n", video.ID, j.ID)
				return err
			})
		},
	}
}

func jobsCmd() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "List jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "Filter by status (pending, in_progress, completed, failed)"},
			&cli.StringFlag{Name: "type", Usage: "Filter by job type"},
			&cli.StringFlag{Name: "subject", Usage: "Filter by subject ID"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum rows", Value: 50},
			&cli.BoolFlag{Name: "stuck", Usage: "Only in_progress jobs older than worker.stuck_after"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withEngine(ctx, cmd, func(ctx context.Context, eng *engine.Engine) error {
				if cmd.Bool("stuck") {
					jobs, err := eng.Stuck(ctx)
					if err != nil {
						return err
					}
					return printJobs(os.Stdout, jobs)
				}

				opts := job.ListOpts{Limit: int(cmd.Int("limit"))}
				if s := cmd.String("status"); s != "" {
					opts.Status = job.Status(s)
					if !opts.Status.Valid() {
						return fmt.Errorf("unknown status %q", s)
					}
				}
				if s := cmd.String("type"); s != "" {
					t, err := job.ParseType(s)
					if err != nil {
						return err
					}
					opts.Type = t
				}
				if s := cmd.String("subject"); s != "" {
					subjectID, err := id.ParseSubjectID(s)
					if err != nil {
						return err
					}
					opts.SubjectID = subjectID
				}
				jobs, err := eng.Store().ListJobs(ctx, opts)
				if err != nil {
					return err
				}
				return printJobs(os.Stdout, jobs)
			})
		},
	}
}

func retryCmd() *cli.Command {
	return &cli.Command{
		Name:      "retry",
		Usage:     "Move a failed job back to pending",
		ArgsUsage: "<job-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jobID, err := id.ParseJobID(cmd.Args().First())
			if err != nil {
				return err
			}
			return withEngine(ctx, cmd, func(ctx context.Context, eng *engine.Engine) error {
				j, err := eng.Retry(ctx, jobID)
				if err != nil {
					return err
				}
				return printJobs(os.Stdout, []*job.Job{j})
			})
		},
	}
}

func failCmd() *cli.Command {
	return &cli.Command{
		Name:      "fail",
		Usage:     "Mark an in_progress job as failed, e.g. after its worker died",
		ArgsUsage: "<job-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reason", Usage: "Failure message recorded on the job", Value: "failed by operator"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jobID, err := id.ParseJobID(cmd.Args().First())
			if err != nil {
				return err
			}
			return withEngine(ctx, cmd, func(ctx context.Context, eng *engine.Engine) error {
				j, err := eng.Fail(ctx, jobID, cmd.String("reason"))
				if err != nil {
					return err
				}
				return printJobs(os.Stdout, []*job.Job{j})
			})
		},
	}
}

func printJobs(w io.Writer, jobs []*job.Job) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tSUBJECT\tCREATED\tSTARTED\tDETAIL")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Type, j.Status, j.SubjectID,
			j.CreatedAt.Format(time.RFC3339), formatTime(j.StartedAt), detail(j))
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func detail(j *job.Job) string {
	switch {
	case j.Error != nil:
		return fmt.Sprintf("%s: %s", j.Error.Class, j.Error.Message)
	case j.Result != nil:
		return fmt.Sprintf("%s %s (%s)", j.Result.Kind, j.Result.Ref, j.ProcessingTime.Round(time.Millisecond))
	default:
		return ""
	}
}
