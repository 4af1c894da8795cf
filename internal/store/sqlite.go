package store

import (
	"context"
	"database/sql"
	"fmt"

	// Side-effect import: registers the pure-Go sqlite driver with
	// database/sql under the name "sqlite". No CGo, no C toolchain.
	_ "modernc.org/sqlite"

	"github.com/sakif/chirp/internal/apperror"
)

// SQLite is the embedded backend, wrapping a database/sql pool.
type SQLite struct {
	conn *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a
// throwaway in-memory database, which is what the tests use.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// One connection, always. SQLite serializes writers anyway, and a larger
	// pool would give every pooled connection its own copy of a ":memory:"
	// database — the pragmas below would only apply to one of them.
	conn.SetMaxOpenConns(1)

	// sql.Open only builds the pool; Ping forces a real connection so a bad
	// path or permission problem surfaces here, not on the first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, apperror.Unavailable(err)
	}

	// WAL allows concurrent readers while a write is in flight — without it
	// SQLite locks the whole file per write, which a web server can't live
	// with. Foreign keys default to off for historical reasons; turn them on.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	return &SQLite{conn: conn}, nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

// sqlRunner is satisfied by both *sql.DB and *sql.Tx, so the Querier
// adapters below serve plain statements and transactions alike.
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return sqlExec(ctx, s.conn, query, args...)
}

func (s *SQLite) QueryRow(ctx context.Context, query string, args ...any) Row {
	return sqlRow{s.conn.QueryRowContext(ctx, query, args...)}
}

func (s *SQLite) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return sqlQuery(ctx, s.conn, query, args...)
}

// InTx runs fn in one SQLite transaction. The driver serializes writers, so
// conflicting transactions queue rather than deadlock.
func (s *SQLite) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	if err := fn(sqlTxQuerier{tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("sqlite: rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// sqlTxQuerier adapts an open *sql.Tx to the Querier interface.
type sqlTxQuerier struct {
	tx *sql.Tx
}

func (q sqlTxQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return sqlExec(ctx, q.tx, query, args...)
}

func (q sqlTxQuerier) QueryRow(ctx context.Context, query string, args ...any) Row {
	return sqlRow{q.tx.QueryRowContext(ctx, query, args...)}
}

func (q sqlTxQuerier) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return sqlQuery(ctx, q.tx, query, args...)
}

func sqlExec(ctx context.Context, r sqlRunner, query string, args ...any) (int64, error) {
	res, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func sqlQuery(ctx context.Context, r sqlRunner, query string, args ...any) (Rows, error) {
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

// sqlRow translates database/sql's not-found sentinel to the store's.
type sqlRow struct {
	row *sql.Row
}

func (r sqlRow) Scan(dest ...any) error {
	if err := r.row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return ErrNoRows
		}
		return err
	}
	return nil
}

type sqlRows struct {
	rows *sql.Rows
}

func (r sqlRows) Next() bool             { return r.rows.Next() }
func (r sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRows) Err() error             { return r.rows.Err() }
func (r sqlRows) Close()                 { _ = r.rows.Close() }
