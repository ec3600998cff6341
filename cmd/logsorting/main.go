// Command logsorting runs the log sorting report job: it reads the red
// sheet, queries the measurements, reconciles both onto the full grid and
// writes the report.
//
// main stays tiny and delegates to run(); every side effect that tests need
// to replace is injected through Deps.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"logsorting/internal/config"
	"logsorting/internal/db"
	"logsorting/internal/logging"
	"logsorting/internal/metrics"
	"logsorting/internal/metrics/datadog"
	"logsorting/internal/metrics/prompush"
	"logsorting/internal/pipeline"
	"logsorting/internal/report"
)

// errInvalidConfig is returned when validation finds errors.
var errInvalidConfig = errors.New("invalid configuration")

// Deps holds the boundaries run() crosses. defaultDeps wires production
// implementations; tests pass fakes.
type Deps struct {
	Getenv func(string) string
	Stdout io.Writer
	Stderr io.Writer

	// Data source and report upload.
	OpenSource  db.Factory
	NewUploader func(ctx context.Context, cfg report.S3Config) (pipeline.Uploader, error)

	// Metrics backends.
	NewPushgateway func(job, url string) (metrics.Backend, error)
	NewDatadog     func(cfg datadog.Config) (metrics.Backend, error)
}

func defaultDeps() Deps {
	return Deps{
		Getenv:     os.Getenv,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		OpenSource: db.Open,
		NewUploader: func(ctx context.Context, cfg report.S3Config) (pipeline.Uploader, error) {
			return report.NewS3Sink(ctx, cfg)
		},
		NewPushgateway: func(job, url string) (metrics.Backend, error) {
			return prompush.NewBackend(job, url)
		},
		NewDatadog: func(cfg datadog.Config) (metrics.Backend, error) {
			return datadog.NewBackend(cfg)
		},
	}
}

// run loads and validates the job, sets up logging and metrics, and
// executes the pipeline.
func run(ctx context.Context, flags *config.Flags, deps Deps) error {
	job, err := config.LoadJob(flags.ConfigDir, flags.Configs, deps.Getenv)
	if err != nil {
		return err
	}

	logCfg := job.Logging
	if flags.Verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(deps.Stderr, logCfg)
	if err != nil {
		return err
	}

	issues := config.Validate(job)
	for _, iss := range issues {
		fmt.Fprintf(deps.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	names := strings.Join(flags.Configs, ",")
	if config.HasErrors(issues) {
		return fmt.Errorf("%w: %s", errInvalidConfig, names)
	}
	if flags.ValidateOnly {
		fmt.Fprintf(deps.Stdout, "configuration is valid: %s\n", names)
		return nil
	}

	done := setupMetrics(job, deps, logger)
	defer done()

	var uploader pipeline.Uploader
	if s3cfg := job.S3Config(); s3cfg != nil {
		if uploader, err = deps.NewUploader(ctx, *s3cfg); err != nil {
			return err
		}
	}

	start := time.Now()
	logger.Info("run started", "job", job.Job, "species", job.Species, "from", job.DateFrom, "to", job.DateTo, "driver", job.Database.Driver)
	res, err := pipeline.Run(ctx, job, pipeline.Deps{
		OpenSource: deps.OpenSource,
		Uploader:   uploader,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	logger.Info("run completed",
		"job", job.Job,
		"report", res.ReportPath,
		"rows", res.Report.Rows,
		"duration", time.Since(start).Truncate(time.Millisecond),
	)
	return nil
}

// setupMetrics installs the configured backend and returns the function
// that flushes it and restores the previous one. A backend that fails to
// initialise is logged and the run continues without metrics.
func setupMetrics(job *config.Job, deps Deps, log *slog.Logger) func() {
	var (
		b   metrics.Backend
		err error
	)
	m := job.Metrics
	switch strings.ToLower(m.Backend) {
	case config.MetricsPushgateway:
		b, err = deps.NewPushgateway(job.Job, m.PushgatewayURL)
	case config.MetricsDatadog:
		b, err = deps.NewDatadog(datadog.Config{Addr: m.DatadogAddr, Namespace: m.Namespace, GlobalTags: m.Tags})
	default:
		log.Debug("metrics disabled", "backend", m.Backend)
		return func() {}
	}
	if err != nil {
		log.Warn("metrics backend init failed; metrics disabled", "backend", m.Backend, "err", err)
		return func() {}
	}

	log.Debug("metrics enabled", "backend", m.Backend)
	prev := metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics flush failed", "backend", m.Backend, "err", err)
		}
		if c, ok := b.(io.Closer); ok {
			_ = c.Close()
		}
		metrics.SetBackend(prev)
	}
}

func main() {
	flags, err := config.Load()
	if err != nil {
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, defaultDeps()); err != nil {
		slog.Error("log sorting failed", "err", err)
		stop()
		os.Exit(1)
	}
}
