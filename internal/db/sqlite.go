package db

import (
	"context"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers "sqlite"
)

// NewSQLite opens a SQLite database file (or any modernc DSN). The pool is
// pinned to a single connection so ":memory:" databases stay visible.
func NewSQLite(ctx context.Context, dsn string) (Source, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	d, err := openSQL(ctx, "sqlite", "sqlite", dsn)
	if err != nil {
		return nil, err
	}
	d.SetMaxOpenConns(1)
	return &sqlSource{name: "sqlite", db: realSQLDB{db: d}}, nil
}
