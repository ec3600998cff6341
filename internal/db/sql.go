package db

import (
	"context"
	"database/sql"
	"fmt"
)

//
// ======================
//  database/sql adapter
// ======================
//
// Shared by the SQL Server, SQLite and MySQL sources. sqlDBCore is the subset of
// *sql.DB we use; rowsCore the subset of *sql.Rows, so tests can inject
// fakes without a driver.
//

type rowsCore interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type sqlDBCore interface {
	QueryContext(ctx context.Context, query string) (rowsCore, error)
	Close() error
}

type realSQLDB struct{ db *sql.DB }

func (r realSQLDB) QueryContext(ctx context.Context, q string) (rowsCore, error) {
	return r.db.QueryContext(ctx, q)
}
func (r realSQLDB) Close() error { return r.db.Close() }

type sqlSource struct {
	name string
	db   sqlDBCore
}

// openSQL opens and pings a database/sql connection.
func openSQL(ctx context.Context, name, driver, dsn string) (*sql.DB, error) {
	d, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", name, err)
	}
	if err := d.PingContext(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("%s: ping: %w", name, err)
	}
	return d, nil
}

// Query runs q and materializes every row.
func (s *sqlSource) Query(ctx context.Context, q string) (*Result, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", s.name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%s: columns: %w", s.name, err)
	}
	res := &Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%s: scan row %d: %w", s.name, len(res.Rows), err)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", s.name, err)
	}
	return res, nil
}

// Close closes the underlying connection pool.
func (s *sqlSource) Close() error { return s.db.Close() }
