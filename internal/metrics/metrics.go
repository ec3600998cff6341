// Package metrics records operational metrics for the log sorting job.
//
// Callers depend only on Backend; concrete systems (Prometheus Pushgateway,
// Datadog) live in subpackages. The global backend defaults to a no-op, so
// the recording helpers are always safe to call.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the helpers below.
const (
	StageTotal           = "logsorting_stage_total"
	StageDurationSeconds = "logsorting_stage_duration_seconds"
	RowsTotal            = "logsorting_rows_total"
	ReportBytes          = "logsorting_report_bytes"
)

// Row kinds passed to RecordRows.
const (
	KindReference    = "reference"
	KindQueryParams  = "query_params"
	KindMeasurements = "measurements"
	KindGrid         = "grid"
	KindReport       = "report"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration style value.
	ObserveHistogram(name string, value float64, labels Labels)
	// SetGauge records the latest value of a gauge.
	SetGauge(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) SetGauge(string, float64, Labels)         {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// SetBackend installs b and returns the previous backend. Passing nil
// restores the no-op backend.
func SetBackend(b Backend) Backend {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	defer mu.Unlock()
	prev := backend
	backend = b
	return prev
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStage counts one execution of a pipeline stage and its duration,
// labelled with success or failure.
func RecordStage(job, stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":    job,
		"stage":  stage,
		"status": status,
	}
	b := current()
	b.IncCounter(StageTotal, 1, lbls)
	b.ObserveHistogram(StageDurationSeconds, d.Seconds(), lbls)
}

// RecordRows adds n to the row counter for kind. Non-positive n is ignored.
func RecordRows(job, kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordReportSize sets the size gauge of the last written report.
func RecordReportSize(job string, bytes int64) {
	current().SetGauge(ReportBytes, float64(bytes), Labels{"job": job})
}
