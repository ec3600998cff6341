// Package pipeline runs one log sorting job end to end: red sheet, query,
// measurements, reconciliation, report.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"logsorting/internal/config"
	"logsorting/internal/db"
	"logsorting/internal/logging"
	"logsorting/internal/metrics"
	"logsorting/internal/query"
	"logsorting/internal/reconcile"
	"logsorting/internal/redsheet"
	"logsorting/internal/report"
)

// Stage names, also used as metric labels.
const (
	StageLoadRedSheet      = "load_red_sheet"
	StageRenderQuery       = "render_query"
	StageFetchMeasurements = "fetch_measurements"
	StageReconcile         = "reconcile"
	StageWriteReport       = "write_report"
	StageUploadReport      = "upload_report"
)

// StageError reports the stage a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Uploader ships a finished report. *report.S3Sink implements it.
type Uploader interface {
	Upload(ctx context.Context, localPath string, sum report.Summary) (string, error)
}

// Deps are the run's collaborators. Zero values select production defaults
// (db.Open, no upload, discarded logs).
type Deps struct {
	OpenSource db.Factory
	Uploader   Uploader
	Logger     *slog.Logger
}

// Result summarises a successful run.
type Result struct {
	ReferenceRows int
	QueryParams   int
	Measurements  int
	GridSize      int
	ReportPath    string
	Report        report.Summary
	UploadKey     string // empty when no upload happened
}

type runner struct {
	job string
	log *slog.Logger
}

// stage runs fn, records its outcome and wraps failures in *StageError.
func (r runner) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: name, Err: err}
	}
	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)
	metrics.RecordStage(r.job, name, err, d)
	if err != nil {
		r.log.Error("stage failed", "stage", name, "duration", d, "err", err)
		return &StageError{Stage: name, Err: err}
	}
	r.log.Debug("stage done", "stage", name, "duration", d)
	return nil
}

// Run executes job. The data source is opened for the fetch stage only and
// closed before reconciliation starts.
func Run(ctx context.Context, job *config.Job, deps Deps) (*Result, error) {
	log := deps.Logger
	if log == nil {
		log = logging.Discard()
	}
	log = log.With("job", job.Job)
	open := deps.OpenSource
	if open == nil {
		open = db.Open
	}
	r := runner{job: job.Job, log: log}
	res := &Result{ReportPath: job.ReportPath()}

	var (
		reference []redsheet.ReferenceRow
		params    []redsheet.QueryParameter
	)
	err := r.stage(ctx, StageLoadRedSheet, func(context.Context) error {
		opts, err := job.RedSheetOptions()
		if err != nil {
			return err
		}
		raw, err := redsheet.ReadFile(job.RedSheetPath(), opts)
		if err != nil {
			return err
		}
		reference, params, err = redsheet.Load(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", job.RedSheetPath(), err)
		}
		res.ReferenceRows, res.QueryParams = len(reference), len(params)
		metrics.RecordRows(job.Job, metrics.KindReference, len(reference))
		metrics.RecordRows(job.Job, metrics.KindQueryParams, len(params))
		log.Info("red sheet loaded", "path", job.RedSheetPath(), "reference_rows", len(reference), "query_params", len(params))
		return nil
	})
	if err != nil {
		return nil, err
	}

	var sqlText string
	err = r.stage(ctx, StageRenderQuery, func(context.Context) error {
		tmpl, err := query.Load(job.Paths.SQLDir, job.Files.Query)
		if err != nil {
			return err
		}
		sqlText, err = query.Render(tmpl, query.Params{
			Species:     job.Species,
			DateFrom:    job.DateFrom,
			DateTo:      job.DateTo,
			QueryConfig: params,
		})
		if err != nil {
			return err
		}
		log.Debug("query rendered", "path", job.QueryPath(), "sql", sqlText)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var ms reconcile.MeasurementSet
	err = r.stage(ctx, StageFetchMeasurements, func(ctx context.Context) error {
		var err error
		ms, err = fetch(ctx, open, job, log, sqlText)
		if err != nil {
			return err
		}
		res.Measurements = len(ms.Rows)
		metrics.RecordRows(job.Job, metrics.KindMeasurements, len(ms.Rows))
		log.Info("measurements fetched", "rows", len(ms.Rows), "metrics", ms.Metrics)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var rep *reconcile.Report
	err = r.stage(ctx, StageReconcile, func(context.Context) error {
		var err error
		rep, err = reconcile.Reconcile(ms, reference)
		if err != nil {
			return err
		}
		res.GridSize = rep.GridSize
		metrics.RecordRows(job.Job, metrics.KindGrid, rep.GridSize)
		log.Info("measurements reconciled", "grid", rep.GridSize, "rows", len(rep.Rows))
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, StageWriteReport, func(context.Context) error {
		delim, err := job.ReportDelimiter()
		if err != nil {
			return err
		}
		sum, err := report.WriteFile(res.ReportPath, rep, delim)
		if err != nil {
			return err
		}
		res.Report = sum
		metrics.RecordRows(job.Job, metrics.KindReport, sum.Rows)
		metrics.RecordReportSize(job.Job, sum.Bytes)
		log.Info("report written", "path", res.ReportPath, "rows", sum.Rows, "bytes", sum.Bytes, "xxh3", sum.ChecksumHex())
		return nil
	})
	if err != nil {
		return nil, err
	}

	if deps.Uploader == nil {
		return res, nil
	}
	err = r.stage(ctx, StageUploadReport, func(ctx context.Context) error {
		key, err := deps.Uploader.Upload(ctx, res.ReportPath, res.Report)
		if err != nil {
			return err
		}
		res.UploadKey = key
		log.Info("report uploaded", "key", key)
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

// fetch opens the source, runs sqlText and decodes the result. The source
// is closed before returning; a close failure after a good query is logged.
func fetch(ctx context.Context, open db.Factory, job *config.Job, log *slog.Logger, sqlText string) (reconcile.MeasurementSet, error) {
	cfg, err := job.DB()
	if err != nil {
		return reconcile.MeasurementSet{}, err
	}
	src, err := open(ctx, cfg)
	if err != nil {
		return reconcile.MeasurementSet{}, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Warn("close data source", "driver", cfg.Driver, "err", cerr)
		}
	}()

	out, err := src.Query(ctx, sqlText)
	if err != nil {
		return reconcile.MeasurementSet{}, err
	}
	return reconcile.FromResult(out.Columns, out.Rows)
}
