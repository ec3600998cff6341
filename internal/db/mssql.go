package db

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	_ "github.com/microsoft/go-mssqldb" // registers "sqlserver"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// MSSQLParams are the discrete connection settings used when no DSN is
// configured.
type MSSQLParams struct {
	Server   string
	Port     int
	User     string
	Domain   string // Windows/AD domain; login becomes DOMAIN\User
	Password string
	Database string
}

// DSN renders p as a sqlserver:// URL.
func (p MSSQLParams) DSN() string {
	login := p.User
	if p.Domain != "" {
		login = p.Domain + `\` + p.User
	}
	host := p.Server
	if p.Port > 0 {
		host += ":" + strconv.Itoa(p.Port)
	}
	u := url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(login, p.Password),
		Host:   host,
	}
	if p.Database != "" {
		u.RawQuery = url.Values{"database": {p.Database}}.Encode()
	}
	return u.String()
}

// NewMSSQL validates dsn, connects and pings.
func NewMSSQL(ctx context.Context, dsn string) (Source, error) {
	// Validate early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql: dsn: %w", err)
	}
	d, err := openSQL(ctx, "mssql", "sqlserver", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlSource{name: "mssql", db: realSQLDB{db: d}}, nil
}
