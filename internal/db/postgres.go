package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// pgConnLike is the subset of *pgx.Conn the Postgres source uses.
type pgConnLike interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close(ctx context.Context) error
}

type pgSource struct{ conn pgConnLike }

// NewPostgres connects with pgx.Connect.
func NewPostgres(ctx context.Context, dsn string) (Source, error) {
	c, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &pgSource{conn: c}, nil
}

// Query runs q and materializes every row. NUMERIC values are converted to
// float64 so downstream decoding only sees plain Go types.
func (p *pgSource) Query(ctx context.Context, q string) (*Result, error) {
	rows, err := p.conn.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	res := &Result{Columns: make([]string, len(fds))}
	for i, fd := range fds {
		res.Columns[i] = fd.Name
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: values row %d: %w", len(res.Rows), err)
		}
		for i, v := range vals {
			if vals[i], err = plainValue(v); err != nil {
				return nil, fmt.Errorf("postgres: row %d column %q: %w", len(res.Rows), res.Columns[i], err)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return res, nil
}

// Close closes the connection.
func (p *pgSource) Close() error { return p.conn.Close(context.Background()) }

type float64Valuer interface {
	Float64Value() (pgtype.Float8, error)
}

func plainValue(v any) (any, error) {
	fv, ok := v.(float64Valuer)
	if !ok {
		return v, nil
	}
	f, err := fv.Float64Value()
	if err != nil {
		return nil, err
	}
	if !f.Valid {
		return nil, nil
	}
	return f.Float64, nil
}
