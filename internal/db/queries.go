package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Queries provides access to all database operations. A zero-value tx
// field means queries run directly against db; WithTx substitutes tx so
// every entity method works unmodified inside a transaction.
type Queries struct {
	db *sql.DB
	tx *sql.Tx
}

// New creates a new Queries instance.
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// DB returns the underlying database connection.
func (q *Queries) DB() *sql.DB {
	return q.db
}

// WithTx runs fn with a Queries bound to a transaction, committing on
// success and rolling back on any error or panic.
func (q *Queries) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txQueries := &Queries{db: q.db, tx: tx}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txQueries); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting entity query
// methods run unchanged whether or not they're inside WithTx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (q *Queries) exec() execer {
	if q.tx != nil {
		return q.tx
	}
	return q.db
}
