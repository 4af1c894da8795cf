// Package store abstracts the persistence backend behind four primitives:
// execute-write, fetch-one, fetch-many, and a transaction scope.
//
// Two interchangeable backends implement the interface — an embedded SQLite
// database (single-binary deployments, tests) and a remote Postgres pool.
// The backend is chosen exactly once, at process start, by Open; nothing
// above this package ever branches on which one is in use. Repository SQL is
// written with `?` placeholders and the Postgres backend rebinds them to the
// `$n` style, so the statements themselves stay backend-neutral.
//
// All statements are fully parameterized. No user content is ever
// interpolated into SQL text.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// ErrNoRows is returned by Row.Scan when fetch-one matches nothing. Both
// backends translate their driver-specific sentinel to this one, so callers
// check a single error regardless of backend.
var ErrNoRows = errors.New("store: no rows in result set")

// Row is a single fetched row, scanned at most once.
type Row interface {
	Scan(dest ...any) error
}

// Rows is an iterator over a multi-row result. Always close it; an open Rows
// pins a connection.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Querier is the statement-level surface shared by a live store and a
// transaction within it.
type Querier interface {
	// Exec runs a write statement and reports the number of affected rows.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	// QueryRow runs a query expected to return at most one row.
	QueryRow(ctx context.Context, query string, args ...any) Row
	// Query runs a query returning any number of rows.
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// Store is a live backend connection (pool).
type Store interface {
	Querier

	// InTx runs fn inside a single transaction. A nil return commits; any
	// error rolls the whole transaction back and is returned unchanged.
	InTx(ctx context.Context, fn func(q Querier) error) error

	Close() error
}

// Config selects and parameterizes the backend.
type Config struct {
	Backend string `yaml:"backend"` // "sqlite" (default) or "postgres"
	Path    string `yaml:"path"`    // sqlite: file path, or ":memory:"
	DSN     string `yaml:"dsn"`     // postgres: connection string
}

// Open dispatches on the configured backend. This is the only place the
// concrete implementations are named.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return OpenSQLite(cfg.Path)
	case BackendPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
