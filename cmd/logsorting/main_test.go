package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"logsorting/internal/config"
	"logsorting/internal/db"
	"logsorting/internal/metrics"
	"logsorting/internal/metrics/datadog"
	"logsorting/internal/pipeline"
	"logsorting/internal/report"
)

// ==========================
// Fakes
// ==========================

type fakeBackend struct {
	counters map[string]float64
	flushed  int
	closed   bool
}

func (f *fakeBackend) IncCounter(name string, delta float64, _ metrics.Labels) {
	f.counters[name] += delta
}
func (f *fakeBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (f *fakeBackend) SetGauge(string, float64, metrics.Labels)         {}
func (f *fakeBackend) Flush() error                                     { f.flushed++; return nil }
func (f *fakeBackend) Close() error                                     { f.closed = true; return nil }

type fakeUploader struct{ path string }

func (f *fakeUploader) Upload(_ context.Context, p string, _ report.Summary) (string, error) {
	f.path = p
	return filepath.Base(p), nil
}

// testDeps fails loudly if a boundary is crossed that the test did not
// expect.
func testDeps(t *testing.T, env map[string]string) (Deps, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	return Deps{
		Getenv: func(k string) string { return env[k] },
		Stdout: &stdout,
		Stderr: &stderr,
		OpenSource: func(context.Context, db.Config) (db.Source, error) {
			t.Fatalf("unexpected OpenSource call")
			return nil, nil
		},
		NewUploader: func(context.Context, report.S3Config) (pipeline.Uploader, error) {
			t.Fatalf("unexpected NewUploader call")
			return nil, nil
		},
		NewPushgateway: func(string, string) (metrics.Backend, error) {
			t.Fatalf("unexpected NewPushgateway call")
			return nil, nil
		},
		NewDatadog: func(datadog.Config) (metrics.Backend, error) {
			t.Fatalf("unexpected NewDatadog call")
			return nil, nil
		},
	}, &stdout, &stderr
}

func abs(t *testing.T, rel string) string {
	t.Helper()
	p, err := filepath.Abs(rel)
	require.NoError(t, err)
	return p
}

// writeJob writes config.yaml (and optional extra files) into a fresh
// config dir. The base job reads the repository's red sheet and SQLite
// template and writes into a temp output dir.
func writeJob(t *testing.T, extra map[string]string) (dir, outDir string) {
	t.Helper()
	dir = t.TempDir()
	outDir = filepath.Join(t.TempDir(), "output")
	base := `job: log_sorting
species: "1"
date_from: 2023-01-01
date_to: 2023-12-31
paths:
  data_dir: ` + abs(t, "../../data") + `
  sql_dir: ` + abs(t, "../../configs/sql") + `
  output_dir: ` + outDir + `
files:
  red_sheet: red_sheet_pine
  query: log_sorting_sqlite
  report: log_sorting_report
red_sheet:
  encoding: utf-8
  delimiter: ","
report:
  delimiter: ";"
database:
  driver: sqlite
  dsn: ${EXTRACT_DB}
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(config.Path(dir, "config"), []byte(base), 0o644))
	for name, body := range extra {
		require.NoError(t, os.WriteFile(config.Path(dir, name), []byte(body), 0o644))
	}
	return dir, outDir
}

func seedExtract(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extract.db")
	d, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer d.Close()

	for _, s := range []string{
		`CREATE TABLE log_sorting (species_code TEXT, measured_at TEXT, lot_id INTEGER, volume_m3 REAL, top_diameter_mm INTEGER, length_dm INTEGER)`,
		`INSERT INTO log_sorting VALUES ('1', '2023-05-10 07:30:00', 3, 0.4, 230, 35)`,
	} {
		_, err := d.Exec(s)
		require.NoError(t, err)
	}
	return path
}

// ==========================
// Tests
// ==========================

func TestDefaultDeps_ProvidesNonNilProductionWiring(t *testing.T) {
	d := defaultDeps()
	assert.NotNil(t, d.Getenv)
	assert.NotNil(t, d.Stdout)
	assert.NotNil(t, d.Stderr)
	assert.NotNil(t, d.OpenSource)
	assert.NotNil(t, d.NewUploader)
	assert.NotNil(t, d.NewPushgateway)
	assert.NotNil(t, d.NewDatadog)
}

// TestRun_ValidateOnly validates and exits without touching the database.
func TestRun_ValidateOnly(t *testing.T) {
	dir, outDir := writeJob(t, nil)
	deps, stdout, _ := testDeps(t, map[string]string{"EXTRACT_DB": "x.db"})

	err := run(context.Background(), &config.Flags{ConfigDir: dir, Configs: []string{"config"}, ValidateOnly: true}, deps)
	require.NoError(t, err)
	assert.Equal(t, "configuration is valid: config\n", stdout.String())

	_, statErr := os.Stat(outDir)
	assert.True(t, os.IsNotExist(statErr))
}

// TestRun_InvalidConfig prints every issue and refuses to run.
func TestRun_InvalidConfig(t *testing.T) {
	dir, _ := writeJob(t, map[string]string{"broken": "date_to: 2022-01-01\nmetrics:\n  backend: statsd\n"})
	deps, _, stderr := testDeps(t, nil) // EXTRACT_DB unset: empty dsn

	err := run(context.Background(), &config.Flags{ConfigDir: dir, Configs: []string{"config", "broken"}}, deps)
	require.ErrorIs(t, err, errInvalidConfig)

	out := stderr.String()
	assert.Contains(t, out, "error: date_to: must not be before date_from")
	assert.Contains(t, out, "error: metrics.backend:")
	assert.Contains(t, out, "error: database.dsn:")
}

func TestRun_ConfigLoadErrors(t *testing.T) {
	dir, _ := writeJob(t, map[string]string{"badlog": "logging:\n  format: xml\n"})
	deps, _, _ := testDeps(t, nil)

	err := run(context.Background(), &config.Flags{ConfigDir: dir, Configs: []string{"missing"}}, deps)
	require.Error(t, err)

	err = run(context.Background(), &config.Flags{ConfigDir: dir, Configs: []string{"config", "badlog"}}, deps)
	require.Error(t, err)
}

// TestRun_EndToEnd drives the real SQLite source with injected metrics and
// upload boundaries.
func TestRun_EndToEnd(t *testing.T) {
	dir, outDir := writeJob(t, map[string]string{
		"ship": `metrics:
  backend: pushgateway
  pushgateway_url: http://pushgateway:9091
report:
  s3:
    bucket: reports
    prefix: log_sorting
`,
	})
	deps, _, _ := testDeps(t, map[string]string{"EXTRACT_DB": seedExtract(t)})
	deps.OpenSource = db.Open

	fb := &fakeBackend{counters: map[string]float64{}}
	var gotJob, gotURL string
	deps.NewPushgateway = func(job, url string) (metrics.Backend, error) {
		gotJob, gotURL = job, url
		return fb, nil
	}
	up := &fakeUploader{}
	var gotS3 report.S3Config
	deps.NewUploader = func(_ context.Context, cfg report.S3Config) (pipeline.Uploader, error) {
		gotS3 = cfg
		return up, nil
	}

	err := run(context.Background(), &config.Flags{ConfigDir: dir, Configs: []string{"config", "ship"}}, deps)
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(outDir, "log_sorting_report.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	// the grid spans only measured buckets: one lot x one bucket
	require.Len(t, lines, 1+1)
	assert.Equal(t, "species;date;lot_id;diameter_group;length;log_count;volume_m3;desired", lines[0])
	assert.Equal(t, "1;2023-05-10;3;20-25;3.4;1.0;0.4;12.0", lines[1])

	assert.Equal(t, "log_sorting", gotJob)
	assert.Equal(t, "http://pushgateway:9091", gotURL)
	assert.Equal(t, 1, fb.flushed)
	assert.True(t, fb.closed)
	assert.Equal(t, float64(6), fb.counters[metrics.StageTotal])

	assert.Equal(t, report.S3Config{Bucket: "reports", Prefix: "log_sorting"}, gotS3)
	assert.Equal(t, filepath.Join(outDir, "log_sorting_report.csv"), up.path)
}

// TestRun_MetricsInitFailure keeps running without metrics.
func TestRun_MetricsInitFailure(t *testing.T) {
	dir, _ := writeJob(t, map[string]string{"dd": "metrics:\n  backend: datadog\n  datadog_addr: 127.0.0.1:8125\n"})
	deps, _, stderr := testDeps(t, map[string]string{"EXTRACT_DB": seedExtract(t)})
	deps.OpenSource = db.Open
	deps.NewDatadog = func(datadog.Config) (metrics.Backend, error) { return nil, errors.New("no agent") }

	err := run(context.Background(), &config.Flags{ConfigDir: dir, Configs: []string{"config", "dd"}}, deps)
	require.NoError(t, err)
	assert.Contains(t, stderr.String(), "metrics backend init failed")
}

// TestRun_PipelineErrorBubblesUp returns the stage error unchanged.
func TestRun_PipelineErrorBubblesUp(t *testing.T) {
	dir, _ := writeJob(t, nil)
	deps, _, _ := testDeps(t, map[string]string{"EXTRACT_DB": "x.db"})
	boom := errors.New("connection refused")
	deps.OpenSource = func(context.Context, db.Config) (db.Source, error) { return nil, boom }

	err := run(context.Background(), &config.Flags{ConfigDir: dir, Configs: []string{"config"}}, deps)
	var se *pipeline.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, pipeline.StageFetchMeasurements, se.Stage)
	assert.ErrorIs(t, err, boom)
}
