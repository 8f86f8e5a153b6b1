package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pooled connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Scope wraps a connection acquired for the lifetime of one request.
// While a transaction is open on the scope, repositories run inside it.
type Scope struct {
	Conn *pgxpool.Conn
	tx   pgx.Tx
}

// Acquire takes a connection from the pool.
// The returned Scope MUST be closed with defer scope.Close().
func (db *DB) Acquire(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Scope{Conn: conn}, nil
}

// Close rolls back any dangling transaction and releases the connection to the pool.
func (s *Scope) Close() {
	if s.Conn == nil {
		return
	}
	if s.tx != nil {
		_ = s.tx.Rollback(context.Background())
		s.tx = nil
	}
	s.Conn.Release()
}

// Q returns the transaction when one is open, otherwise the connection.
func (s *Scope) Q() Querier {
	if s.tx != nil {
		return s.tx
	}
	return s.Conn
}

// InTx runs fn inside a transaction on the scope found in ctx.
// Nested calls reuse the outer transaction.
func InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	scope, ok := GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}
	if scope.tx != nil {
		return fn(ctx)
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	scope.tx = tx
	defer func() {
		if scope.tx != nil {
			_ = scope.tx.Rollback(ctx)
			scope.tx = nil
		}
	}()

	if err := fn(ctx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	scope.tx = nil
	return nil
}

// Transactor runs a unit of work atomically. Services depend on this
// rather than on the database package so they can be tested without Postgres.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ScopeTransactor implements Transactor using the request scope.
type ScopeTransactor struct{}

// InTx delegates to the package-level InTx.
func (ScopeTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return InTx(ctx, fn)
}

var _ Transactor = ScopeTransactor{}
