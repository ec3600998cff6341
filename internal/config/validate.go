package config

import (
	"fmt"
	"strings"
	"time"

	"logsorting/internal/db"
	"logsorting/internal/redsheet"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single validation finding. Path is a dotted path into the job
// file, e.g. "database.driver".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate performs static checks over a decoded Job. It does not touch
// the filesystem or the network.
func Validate(j *Job) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(j.Job) == "" {
		add(SeverityError, "job", "must not be empty; it labels metrics and logs")
	}
	if strings.TrimSpace(j.Species) == "" {
		add(SeverityError, "species", "must not be empty")
	}

	from, errFrom := time.Parse(DateLayout, j.DateFrom)
	if errFrom != nil {
		add(SeverityError, "date_from", "must be a %s date, got %q", DateLayout, j.DateFrom)
	}
	to, errTo := time.Parse(DateLayout, j.DateTo)
	if errTo != nil {
		add(SeverityError, "date_to", "must be a %s date, got %q", DateLayout, j.DateTo)
	}
	if errFrom == nil && errTo == nil && to.Before(from) {
		add(SeverityError, "date_to", "must not be before date_from")
	}

	if j.Files.RedSheet == "" {
		add(SeverityError, "files.red_sheet", "must not be empty")
	}
	if j.Files.Query == "" {
		add(SeverityError, "files.query", "must not be empty")
	}
	if j.Files.Report == "" {
		add(SeverityError, "files.report", "must not be empty")
	}
	if j.Paths.OutputDir == "" {
		add(SeverityWarning, "paths.output_dir", "empty; the report is written to the working directory")
	}

	if !redsheet.KnownEncoding(j.RedSheet.Encoding) {
		add(SeverityError, "red_sheet.encoding", "unsupported encoding %q", j.RedSheet.Encoding)
	}
	if _, err := j.RedSheetOptions(); err != nil {
		add(SeverityError, "red_sheet.delimiter", "%v", err)
	}
	if _, err := j.ReportDelimiter(); err != nil {
		add(SeverityError, "report.delimiter", "%v", err)
	}
	if s := j.Report.S3; s != nil && s.Bucket == "" {
		add(SeverityWarning, "report.s3.bucket", "empty; upload is disabled")
	}

	issues = append(issues, validateDatabase(j)...)
	issues = append(issues, validateMetrics(j.Metrics)...)
	return issues
}

func validateDatabase(j *Job) []Issue {
	var issues []Issue
	d := j.Database

	switch strings.ToLower(d.Driver) {
	case db.DriverMSSQL, db.DriverPostgres, db.DriverSQLite, db.DriverMySQL:
	case "":
		return []Issue{{Severity: SeverityError, Path: "database.driver", Message: "must not be empty"}}
	default:
		return []Issue{{Severity: SeverityError, Path: "database.driver",
			Message: fmt.Sprintf("unsupported driver %q (want mssql, postgres, sqlite or mysql)", d.Driver)}}
	}

	cfg, err := j.DB()
	if err != nil {
		issues = append(issues, Issue{Severity: SeverityError, Path: "database", Message: err.Error()})
		return issues
	}
	if cfg.DSN == "" {
		msg := "dsn must not be empty"
		if cfg.Driver == db.DriverMSSQL {
			msg = "either dsn or server must be set"
		}
		issues = append(issues, Issue{Severity: SeverityError, Path: "database.dsn", Message: msg})
	}
	if cfg.Driver == db.DriverMSSQL && d.DSN == "" && d.User == "" {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: "database.user", Message: "empty; the login will be rejected by most servers"})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	switch strings.ToLower(m.Backend) {
	case "", MetricsNone:
		return nil
	case MetricsPushgateway:
		if m.PushgatewayURL == "" {
			return []Issue{{Severity: SeverityError, Path: "metrics.pushgateway_url", Message: "required for the pushgateway backend"}}
		}
	case MetricsDatadog:
		if m.DatadogAddr == "" {
			return []Issue{{Severity: SeverityError, Path: "metrics.datadog_addr", Message: "required for the datadog backend"}}
		}
	default:
		return []Issue{{Severity: SeverityError, Path: "metrics.backend",
			Message: fmt.Sprintf("unsupported backend %q (want none, pushgateway or datadog)", m.Backend)}}
	}
	return nil
}
