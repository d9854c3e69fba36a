package store

import (
	"context"
	"database/sql"

	"github.com/mcdev12/questhunt/go/internal/sqlutil"
)

// DBTX is the subset of database/sql used by the query methods, satisfied by
// both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Postgres implements Store on top of database/sql with the lib/pq driver.
type Postgres struct {
	db  *sql.DB
	dbx DBTX
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, dbx: db}
}

// WithinTx runs fn with every query bound to a single transaction.
func (p *Postgres) WithinTx(ctx context.Context, fn func(q Queries) error) error {
	return sqlutil.Run(ctx, p.db, func(tx *sql.Tx) error {
		return fn(&Postgres{db: p.db, dbx: tx})
	})
}
