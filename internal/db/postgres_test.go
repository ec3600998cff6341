package db

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//
// =====================
//  pgx seam test fakes
// =====================
//

type fakePgRows struct {
	fields []string
	data   [][]any
	i      int
	valErr error
	err    error
	closed bool
}

func (r *fakePgRows) Close()                        { r.closed = true }
func (r *fakePgRows) Err() error                    { return r.err }
func (r *fakePgRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakePgRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.fields))
	for i, f := range r.fields {
		out[i] = pgconn.FieldDescription{Name: f}
	}
	return out
}
func (r *fakePgRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}
func (r *fakePgRows) Scan(...any) error { return nil }
func (r *fakePgRows) Values() ([]any, error) {
	if r.valErr != nil {
		return nil, r.valErr
	}
	return append([]any(nil), r.data[r.i-1]...), nil
}
func (r *fakePgRows) RawValues() [][]byte { return nil }
func (r *fakePgRows) Conn() *pgx.Conn     { return nil }

type fakePgConn struct {
	rows     *fakePgRows
	queryErr error
	closed   bool
}

func (c *fakePgConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return c.rows, nil
}
func (c *fakePgConn) Close(context.Context) error { c.closed = true; return nil }

func TestPgSource_QueryConvertsNumeric(t *testing.T) {
	t.Parallel()

	num := pgtype.Numeric{Int: big.NewInt(340), Exp: -2, Valid: true}
	rows := &fakePgRows{
		fields: []string{"diameter_group", "length", "volume"},
		data: [][]any{
			{"20-25", num, nil},
			{"25-30", pgtype.Numeric{}, 1.5},
		},
	}
	conn := &fakePgConn{rows: rows}
	src := &pgSource{conn: conn}

	res, err := src.Query(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"diameter_group", "length", "volume"}, res.Columns)
	assert.Equal(t, [][]any{{"20-25", 3.4, nil}, {"25-30", nil, 1.5}}, res.Rows)
	assert.True(t, rows.closed)

	require.NoError(t, src.Close())
	assert.True(t, conn.closed)
}

func TestPgSource_QueryErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	for name, conn := range map[string]*fakePgConn{
		"query":  {queryErr: boom},
		"values": {rows: &fakePgRows{fields: []string{"a"}, data: [][]any{{1}}, valErr: boom}},
		"rows":   {rows: &fakePgRows{fields: []string{"a"}, err: boom}},
	} {
		_, err := (&pgSource{conn: conn}).Query(context.Background(), "q")
		require.ErrorIs(t, err, boom, name)
		assert.ErrorContains(t, err, "postgres: "+name, name)
	}
}

func TestNewPostgres_BadDSN(t *testing.T) {
	t.Parallel()
	_, err := NewPostgres(context.Background(), "postgres://%zz")
	assert.ErrorContains(t, err, "postgres: connect")
}
