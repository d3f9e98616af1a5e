// Package database executes DDL and CALL statements against the shared
// MySQL server.
package database

import (
	"context"
	"database/sql"
	"fmt"

	// MySQL driver, registered for sql.Open.
	_ "github.com/go-sql-driver/mysql"
)

// Executor runs batches of pre-formatted statements. It offers no
// templating and does not sanitize: the only callers build statements
// from server-generated identifiers.
type Executor struct {
	db *sql.DB
}

// New opens a pool against the given DSN. Idle connections are not kept,
// so every Exec call checks out a fresh connection.
func New(dsn string) (*Executor, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxIdleConns(0)
	return &Executor{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests to inject sqlmock.
func NewWithDB(db *sql.DB) *Executor {
	return &Executor{db: db}
}

// Close releases the underlying pool.
func (e *Executor) Close() error {
	return e.db.Close()
}

// Ping verifies the MySQL server is reachable. The readiness probe uses
// it with a short deadline.
func (e *Executor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// StatementError reports which statement of a batch failed.
type StatementError struct {
	Index int
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %d: %v", e.Index, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// Exec runs the statements sequentially on a single connection within one
// transaction, committed at the end. On failure the transaction is rolled
// back and the returned error names the originating statement index.
func (e *Executor) Exec(ctx context.Context, statements ...string) error {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return &StatementError{Index: i, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
