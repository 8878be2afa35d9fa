package main

import (
	"github.com/urfave/cli/v3"
)

var version = "dev"

// App returns the mediaflow command tree.
func App() *cli.Command {
	return &cli.Command{
		Name:    "mediaflow",
		Version: version,
		Usage:   "Media transcription and summarization job dispatch",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML config file",
				Sources: cli.EnvVars("MEDIAFLOW_CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			workerCmd(),
			migrateCmd(),
			enqueueCmd(),
			jobsCmd(),
			retryCmd(),
			failCmd(),
		},
	}
}
