package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the statement API shared by the pool and an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Scope routes repository statements either to the pool (one connection per
// statement) or to the transaction opened by WithTx.
type Scope struct {
	db *DB
	tx pgx.Tx
}

// Scope returns a pool-backed scope. Pool-backed scopes hold no connection,
// so they need no cleanup.
func (db *DB) Scope() *Scope {
	return &Scope{db: db}
}

// Querier returns the target for the next statement.
func (s *Scope) Querier() Querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db.Pool
}

// InTx reports whether statements run inside a transaction.
func (s *Scope) InTx() bool {
	return s.tx != nil
}

// WithTx runs fn with a context whose scope is a single transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
// Nested calls join the outer transaction.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if scope, ok := GetScope(ctx); ok && scope.InTx() {
		return fn(ctx)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// No-op after a successful commit
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(SetScope(ctx, &Scope{db: db, tx: tx})); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
