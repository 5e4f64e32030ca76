package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/airport-sync/internal/exitcodes"
	"github.com/johndauphine/airport-sync/internal/logging"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "airport-sync",
		Usage:   "Synchronize airport reference data snapshots into the live store",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file (default: .env next to the config file)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the import orchestrator, population schedulers and HTTP listener",
				Action: serve,
			},
			{
				Name:   "run",
				Usage:  "Process queued import jobs until the queue is empty",
				Action: runQueued,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "progress-json",
						Usage: "Emit JSON progress lines on stdout",
					},
				},
			},
			{
				Name:   "enqueue",
				Usage:  "Queue an import job for a snapshot",
				Action: enqueue,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "type",
						Aliases:  []string{"t"},
						Required: true,
						Usage:    "Job type: msfs-full, xplane-full, msfs-refresh or xplane-refresh",
					},
					&cli.StringFlag{
						Name:     "source",
						Aliases:  []string{"s"},
						Required: true,
						Usage:    "Snapshot path or s3://bucket/key",
					},
					&cli.StringFlag{
						Name:  "user",
						Usage: "Requesting user recorded on the job",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show the status of a job (default: most recent)",
				Action: showStatus,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "job",
						Usage: "Job ID",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output status as JSON",
					},
				},
			},
			{
				Name:   "history",
				Usage:  "List recent import jobs",
				Action: showHistory,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Maximum number of jobs",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output history as JSON",
					},
				},
			},
			{
				Name:   "classify",
				Usage:  "Compute the size class of one airport from a snapshot",
				Action: classify,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "snapshot",
						Required: true,
						Usage:    "Path to a local snapshot",
					},
					&cli.StringFlag{
						Name:     "ident",
						Required: true,
						Usage:    "Airport ident",
					},
				},
			},
			{
				Name:   "population",
				Usage:  "Show population state counts per source",
				Action: showPopulation,
			},
			{
				Name:   "init-db",
				Usage:  "Create the live store schema",
				Action: initDB,
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration with secrets masked",
				Action: showConfig,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitcodes.FromError(err))
	}
}
