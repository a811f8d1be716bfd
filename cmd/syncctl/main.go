package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresuchdata/batchsync/internal/app"
	"github.com/andresuchdata/batchsync/internal/config"
	"github.com/andresuchdata/batchsync/internal/domain"
	"github.com/andresuchdata/batchsync/internal/repository/postgres"
	"github.com/andresuchdata/batchsync/internal/transfer"
	"github.com/andresuchdata/batchsync/pkg/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("syncctl failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "syncctl",
		Usage: "Sync daily SFTP batches into the destination bucket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "zerolog level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "info",
			},
		},
		Before: func(c *cli.Context) error {
			cfg := config.Load()
			logger.Configure(c.String("log-level"), cfg.Log.Format)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Transfer every pending day now",
				Action: runTransfer,
			},
			{
				Name:   "status",
				Usage:  "Show the last uploaded date and how many days are pending",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "refresh",
						Usage: "Drop cached status reports before probing the stores",
					},
				},
				Action: showStatus,
			},
			{
				Name:  "check",
				Usage: "Validate configuration and connectivity to both stores",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "write-probe",
						Usage: "Also write a test_connection.txt object under the prefix",
					},
				},
				Action: checkConnectivity,
			},
			{
				Name:   "migrate",
				Usage:  "Apply run-history database migrations",
				Action: migrate,
			},
			{
				Name:  "runs",
				Usage: "List recent transfer runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of runs to show",
						Value: 20,
					},
				},
				Action: listRuns,
			},
		},
	}
}

func withApp(c *cli.Context, fn func(a *app.App) error) error {
	a, err := app.Build(c.Context, config.Load())
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer a.Close()
	return fn(a)
}

func runTransfer(c *cli.Context) error {
	return withApp(c, func(a *app.App) error {
		summary, err := a.Service.StartTransfer(c.Context, domain.TriggerCLI)
		if errors.Is(err, transfer.ErrTransferInProgress) {
			return cli.Exit(err.Error(), 3)
		}
		if summary != nil {
			if encErr := writeJSON(c.App.Writer, summary); encErr != nil {
				return encErr
			}
		}
		if err != nil {
			return cli.Exit(transfer.FailureMessage(err), 1)
		}
		return nil
	})
}

func showStatus(c *cli.Context) error {
	return withApp(c, func(a *app.App) error {
		if c.Bool("refresh") {
			if err := a.Service.FlushStatusCache(c.Context); err != nil {
				return cli.Exit(fmt.Sprintf("flush status cache: %v", err), 1)
			}
		}
		report, err := a.Service.Status(c.Context)
		if encErr := writeJSON(c.App.Writer, report); encErr != nil {
			return encErr
		}
		if err != nil {
			return cli.Exit(report.Message, 1)
		}
		return nil
	})
}

func checkConnectivity(c *cli.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(c.App.Writer, "configuration: FAILED\n%v\n", err)
		return cli.Exit("configuration is incomplete", 2)
	}
	fmt.Fprintln(c.App.Writer, "configuration: ok")

	return withApp(c, func(a *app.App) error {
		report := a.Service.Check(c.Context, c.Bool("write-probe"))
		printCheck(c.App.Writer, cfg, report)
		if !report.OK() {
			return cli.Exit("connectivity check failed", 1)
		}
		return nil
	})
}

func printCheck(w io.Writer, cfg *config.Config, r *transfer.CheckReport) {
	if r.SourceErr != nil {
		fmt.Fprintf(w, "sftp %s: FAILED: %s\n", cfg.SFTP.Addr(), transfer.FailureMessage(r.SourceErr))
		logger.Log.Debug().Err(r.SourceErr).Msg("source check")
	} else {
		fmt.Fprintf(w, "sftp %s: ok, %d files in %s\n", cfg.SFTP.Addr(), r.SourceFiles, cfg.SFTP.RemoteDir)
		for _, name := range r.SampleNames {
			fmt.Fprintf(w, "  - %s\n", name)
		}
	}

	if r.DestinationErr != nil {
		fmt.Fprintf(w, "bucket %s: FAILED: %s\n", cfg.Destination.Bucket, transfer.FailureMessage(r.DestinationErr))
		logger.Log.Debug().Err(r.DestinationErr).Msg("destination check")
	} else {
		fmt.Fprintf(w, "bucket %s: ok\n", cfg.Destination.Bucket)
	}

	switch {
	case r.ProbeErr != nil:
		fmt.Fprintf(w, "write probe: FAILED: %v\n", r.ProbeErr)
	case r.ProbeKey != "":
		fmt.Fprintf(w, "write probe: ok, wrote %s\n", r.ProbeKey)
	}
}

func migrate(c *cli.Context) error {
	cfg := config.Load()
	if !cfg.Database.Enabled {
		return cli.Exit("DB_ENABLED is false; nothing to migrate", 2)
	}
	if err := postgres.Migrate(c.Context, cfg.Database); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "migrations applied")
	return nil
}

func listRuns(c *cli.Context) error {
	if !config.Load().Database.Enabled {
		return cli.Exit("DB_ENABLED is false; run history is not recorded", 2)
	}
	return withApp(c, func(a *app.App) error {
		runs, err := a.Service.Runs(c.Context, c.Int("limit"))
		if err != nil {
			return err
		}
		return writeJSON(c.App.Writer, runs)
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
