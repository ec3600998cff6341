package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"logsorting/internal/metrics"
)

// readCounterValue reads the current value of a Counter.
func readCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	if m.GetCounter() == nil {
		t.Fatalf("metric did not contain Counter value")
	}
	return m.GetCounter().GetValue()
}

func readGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Gauge.Write() error = %v", err)
	}
	return m.GetGauge().GetValue()
}

// readSummaryCountSum reads sample count and sum from a SummaryVec.
func readSummaryCountSum(t *testing.T, v *prometheus.SummaryVec, labels ...string) (uint64, float64) {
	t.Helper()

	m := &dto.Metric{}
	metric, ok := v.WithLabelValues(labels...).(prometheus.Metric)
	if !ok {
		t.Fatalf("SummaryVec.WithLabelValues(...) does not implement prometheus.Metric")
	}
	if err := metric.Write(m); err != nil {
		t.Fatalf("Summary.Write() error = %v", err)
	}
	sum := m.GetSummary()
	return sum.GetSampleCount(), sum.GetSampleSum()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		jobName     string
		gatewayURL  string
		wantErr     bool
		wantJobName string
	}{
		{name: "missing gateway URL", jobName: "x", wantErr: true},
		{name: "default job name", gatewayURL: "http://pushgateway:9091", wantJobName: "log_sorting"},
		{name: "explicit job name", jobName: "pine", gatewayURL: "http://pushgateway:9091", wantJobName: "pine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := NewBackend(tt.jobName, tt.gatewayURL)
			if tt.wantErr {
				if err == nil || b != nil {
					t.Fatalf("NewBackend(%q, %q) = %v, %v; want nil, error", tt.jobName, tt.gatewayURL, b, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBackend() error = %v", err)
			}
			if b.jobName != tt.wantJobName {
				t.Fatalf("jobName = %q, want %q", b.jobName, tt.wantJobName)
			}
		})
	}
}

// TestBackendRoutesByName checks each metric name lands on its collector
// and unknown names are dropped.
func TestBackendRoutesByName(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("log_sorting", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}

	b.IncCounter(metrics.StageTotal, 1, metrics.Labels{"stage": "reconcile", "status": "success"})
	b.IncCounter(metrics.StageTotal, 1, metrics.Labels{"stage": "reconcile", "status": "success"})
	b.IncCounter(metrics.RowsTotal, 12, metrics.Labels{"kind": metrics.KindGrid})
	b.IncCounter("unknown", 5, nil)
	b.ObserveHistogram(metrics.StageDurationSeconds, 0.25, metrics.Labels{"stage": "write_report", "status": "success"})
	b.ObserveHistogram("unknown", 9, nil)
	b.SetGauge(metrics.ReportBytes, 100, nil)
	b.SetGauge(metrics.ReportBytes, 42, nil)
	b.SetGauge("unknown", 1, nil)

	if got := readCounterValue(t, b.stageCounter.WithLabelValues("reconcile", "success")); got != 2 {
		t.Fatalf("stage counter = %v, want 2", got)
	}
	if got := readCounterValue(t, b.rowCounter.WithLabelValues(metrics.KindGrid)); got != 12 {
		t.Fatalf("row counter = %v, want 12", got)
	}
	if n, s := readSummaryCountSum(t, b.stageDuration, "write_report", "success"); n != 1 || s != 0.25 {
		t.Fatalf("stage duration = (%d, %v), want (1, 0.25)", n, s)
	}
	if got := readGaugeValue(t, b.reportBytes); got != 42 {
		t.Fatalf("report bytes = %v, want 42", got)
	}
}

// TestNilCollectors ensures a zero Backend never panics.
func TestNilCollectors(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.StageTotal, 1, metrics.Labels{})
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{})
	b.ObserveHistogram(metrics.StageDurationSeconds, 1, metrics.Labels{})
	b.SetGauge(metrics.ReportBytes, 1, nil)
}

// TestFlush pushes to a fake Pushgateway and checks the grouping path and
// payload.
func TestFlush(t *testing.T) {
	t.Parallel()

	type pushed struct {
		method string
		path   string
		body   string
	}
	reqCh := make(chan pushed, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		body, _ := io.ReadAll(r.Body)
		reqCh <- pushed{method: r.Method, path: r.URL.Path, body: string(body)}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b, err := NewBackend("log_sorting", server.URL)
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"kind": metrics.KindReport})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var got pushed
	select {
	case got = <-reqCh:
	default:
		t.Fatalf("Flush() sent no request")
	}
	if got.method != http.MethodPut {
		t.Fatalf("method = %q, want PUT", got.method)
	}
	if !strings.HasSuffix(got.path, "/job/log_sorting") {
		t.Fatalf("path = %q, want suffix /job/log_sorting", got.path)
	}
	if len(got.body) == 0 {
		t.Fatalf("push body is empty")
	}
}

// TestFlushGatewayError surfaces a non-2xx response.
func TestFlushGatewayError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	b, err := NewBackend("", server.URL)
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	if err := b.Flush(); err == nil {
		t.Fatalf("Flush() error = nil, want non-nil")
	}
}

func BenchmarkIncCounterStage(b *testing.B) {
	backend, err := NewBackend("log_sorting", "http://example.com")
	if err != nil {
		b.Fatalf("NewBackend() error = %v", err)
	}
	labels := metrics.Labels{"stage": "reconcile", "status": "success"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backend.IncCounter(metrics.StageTotal, 1, labels)
	}
}
