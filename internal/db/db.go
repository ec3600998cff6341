// Package db runs the measurement query against the configured relational
// source and returns the result as plain column names plus rows of driver
// values. Four engines are supported:
//
//   - "mssql":    SQL Server / Azure SQL via github.com/microsoft/go-mssqldb
//   - "postgres": Postgres via github.com/jackc/pgx/v5
//   - "sqlite":   SQLite via modernc.org/sqlite (local runs and fixtures)
//   - "mysql":    MySQL / MariaDB via github.com/go-sql-driver/mysql
//
// Sources hold one connection for the lifetime of a run. Callers own the
// returned Source and must Close it.
package db

import (
	"context"
	"fmt"
	"time"
)

// Supported driver names.
const (
	DriverMSSQL    = "mssql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
)

// Result is a fully materialized query result.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Source executes read-only queries.
type Source interface {
	Query(ctx context.Context, query string) (*Result, error)
	Close() error
}

// Config selects and configures a Source.
type Config struct {
	Driver string
	DSN    string
	// Timeout bounds each query; zero means no limit beyond ctx.
	Timeout time.Duration
}

// Factory opens a Source. Orchestration code takes a Factory so tests can
// hand in fakes.
type Factory func(ctx context.Context, cfg Config) (Source, error)

// Open is the production Factory.
func Open(ctx context.Context, cfg Config) (Source, error) {
	var (
		src Source
		err error
	)
	switch cfg.Driver {
	case DriverMSSQL:
		src, err = NewMSSQL(ctx, cfg.DSN)
	case DriverPostgres:
		src, err = NewPostgres(ctx, cfg.DSN)
	case DriverSQLite:
		src, err = NewSQLite(ctx, cfg.DSN)
	case DriverMySQL:
		src, err = NewMySQL(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		src = timeoutSource{Source: src, timeout: cfg.Timeout}
	}
	return src, nil
}

type timeoutSource struct {
	Source
	timeout time.Duration
}

func (t timeoutSource) Query(ctx context.Context, q string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Source.Query(ctx, q)
}
