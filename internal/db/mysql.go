package db

import (
	"context"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// NewMySQL validates dsn, connects and pings. DATE columns are scanned as
// time.Time so they format like the other drivers.
func NewMySQL(ctx context.Context, dsn string) (Source, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: dsn: %w", err)
	}
	cfg.ParseTime = true

	d, err := openSQL(ctx, "mysql", "mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	return &sqlSource{name: "mysql", db: realSQLDB{db: d}}, nil
}
