package config

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cast"

	"logsorting/internal/db"
	"logsorting/internal/logging"
	"logsorting/internal/query"
	"logsorting/internal/redsheet"
	"logsorting/internal/report"
)

// DateLayout is the format of date_from and date_to.
const DateLayout = "2006-01-02"

// Metrics backends.
const (
	MetricsNone        = "none"
	MetricsPushgateway = "pushgateway"
	MetricsDatadog     = "datadog"
)

// Job is the merged job configuration.
type Job struct {
	Job      string         `yaml:"job"`
	Species  string         `yaml:"species"`
	DateFrom string         `yaml:"date_from"`
	DateTo   string         `yaml:"date_to"`
	Paths    Paths          `yaml:"paths"`
	Files    Files          `yaml:"files"`
	RedSheet RedSheet       `yaml:"red_sheet"`
	Report   Report         `yaml:"report"`
	Database Database       `yaml:"database"`
	Metrics  Metrics        `yaml:"metrics"`
	Logging  logging.Config `yaml:"logging"`
}

type Paths struct {
	DataDir   string `yaml:"data_dir"`
	SQLDir    string `yaml:"sql_dir"`
	OutputDir string `yaml:"output_dir"`
}

// Files are names without extension, resolved against Paths.
type Files struct {
	RedSheet string `yaml:"red_sheet"`
	Query    string `yaml:"query"`
	Report   string `yaml:"report"`
}

type RedSheet struct {
	Encoding  string `yaml:"encoding"`
	Delimiter string `yaml:"delimiter"`
}

type Report struct {
	Delimiter string    `yaml:"delimiter"`
	S3        *S3Upload `yaml:"s3"`
}

// S3Upload enables uploading the finished report.
type S3Upload struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Database takes either a full dsn or discrete MSSQL settings.
type Database struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Server   string `yaml:"server"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Domain   string `yaml:"domain"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Timeout  string `yaml:"timeout"`
}

type Metrics struct {
	Backend        string   `yaml:"backend"`
	PushgatewayURL string   `yaml:"pushgateway_url"`
	DatadogAddr    string   `yaml:"datadog_addr"`
	Namespace      string   `yaml:"namespace"`
	Tags           []string `yaml:"tags"`
}

// RedSheetPath is the red sheet file location.
func (j *Job) RedSheetPath() string { return redsheet.Path(j.Paths.DataDir, j.Files.RedSheet) }

// QueryPath is the SQL template location.
func (j *Job) QueryPath() string { return query.Path(j.Paths.SQLDir, j.Files.Query) }

// ReportPath is where the report is written.
func (j *Job) ReportPath() string { return report.Path(j.Paths.OutputDir, j.Files.Report) }

// RedSheetOptions converts the red_sheet block.
func (j *Job) RedSheetOptions() (redsheet.ReadOptions, error) {
	d, err := delimiter(j.RedSheet.Delimiter, ',')
	if err != nil {
		return redsheet.ReadOptions{}, err
	}
	return redsheet.ReadOptions{Encoding: j.RedSheet.Encoding, Delimiter: d}, nil
}

// ReportDelimiter returns the report field separator.
func (j *Job) ReportDelimiter() (rune, error) {
	return delimiter(j.Report.Delimiter, report.DefaultDelimiter)
}

// S3Config returns the upload settings, or nil when uploading is disabled.
func (j *Job) S3Config() *report.S3Config {
	s := j.Report.S3
	if s == nil || s.Bucket == "" {
		return nil
	}
	return &report.S3Config{
		Bucket:          s.Bucket,
		Prefix:          s.Prefix,
		Region:          s.Region,
		Endpoint:        s.Endpoint,
		PathStyle:       s.PathStyle,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
	}
}

// DB converts the database block. Without a dsn, an MSSQL connection URL
// is built from the discrete settings.
func (j *Job) DB() (db.Config, error) {
	d := j.Database
	cfg := db.Config{Driver: strings.ToLower(d.Driver), DSN: d.DSN}

	if t := strings.TrimSpace(d.Timeout); t != "" {
		to, err := time.ParseDuration(t)
		if err != nil {
			return db.Config{}, fmt.Errorf("config: database.timeout: %w", err)
		}
		cfg.Timeout = to
	}

	if cfg.DSN == "" && cfg.Driver == db.DriverMSSQL {
		p := db.MSSQLParams{
			Server:   d.Server,
			User:     d.User,
			Domain:   d.Domain,
			Password: d.Password,
			Database: d.Database,
		}
		if s := strings.TrimSpace(d.Port); s != "" {
			port, err := cast.ToIntE(s)
			if err != nil {
				return db.Config{}, fmt.Errorf("config: database.port: %w", err)
			}
			p.Port = port
		}
		if p.Server != "" {
			cfg.DSN = p.DSN()
		}
	}
	return cfg, nil
}

func delimiter(s string, def rune) (rune, error) {
	if s == "" {
		return def, nil
	}
	if s == `\t` {
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("config: delimiter %q must be a single character", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}
