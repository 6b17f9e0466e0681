// Package pgx connects restlet to PostgreSQL through jackc/pgx.
package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conn is the subset of *pgx.Conn and *pgxpool.Pool used for introspection and
// queries, so that callers can work with either a single connection or a pool.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// Begin starts a transaction. Unlike database/sql, the context only affects the begin command.
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ Conn = (*pgx.Conn)(nil)
	_ Conn = (*pgxpool.Pool)(nil)
	_ Conn = (pgx.Tx)(nil)
)
