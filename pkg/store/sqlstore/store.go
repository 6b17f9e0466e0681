// Package sqlstore executes query.Select requests and single-table writes
// against PostgreSQL (through pgx's database/sql driver) or SQLite.
//
// Joins are rendered as LEFT JOINs aliased j1, j2, ... in traversal order.
// Selects through a one-to-many relationship use DISTINCT so that a root row
// appears once however many related rows match.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/edgeflare/restlet/pkg/query"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

type Option func(*Store)

// WithLogger logs every statement at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: dialect, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens a database/sql handle for driver ("pgx" or "sqlite3").
// In-memory SQLite databases are limited to one connection so that every
// statement sees the same database.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		driver = "sqlite3"
	} else {
		driver = "pgx"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if dialect == SQLite && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	return New(db, dialect, opts...), nil
}

// FromPool wraps a pgx pool as a PostgreSQL store.
func FromPool(pool *pgxpool.Pool, opts ...Option) *Store {
	return New(stdlib.OpenDBFromPool(pool), Postgres, opts...)
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Find(ctx context.Context, sel *query.Select) ([]query.Record, error) {
	stmt, args, err := renderSelect(s.dialect, sel)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, stmt, args, orderColumns(sel))
}

func (s *Store) Count(ctx context.Context, sel *query.Select) (int, error) {
	stmt, args, err := renderCount(s.dialect, sel)
	if err != nil {
		return 0, err
	}
	s.log(stmt, args)

	var n int
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlstore: count %s: %w", sel.Table, err)
	}
	return n, nil
}

// Insert inserts values into table and returns the stored row.
func (s *Store) Insert(ctx context.Context, table string, values query.Record) (query.Record, error) {
	stmt, args := renderInsert(s.dialect, table, values)
	rows, err := s.query(ctx, stmt, args, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sqlstore: insert into %s returned no row", table)
	}
	return rows[0], nil
}

// Update sets values on the rows of table matching where and returns them.
func (s *Store) Update(ctx context.Context, table string, where query.Expr, values query.Record) ([]query.Record, error) {
	stmt, args, err := renderUpdate(s.dialect, table, where, values)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, stmt, args, 0)
}

// Delete removes the rows of table matching where and returns them.
func (s *Store) Delete(ctx context.Context, table string, where query.Expr) ([]query.Record, error) {
	stmt, args, err := renderDelete(s.dialect, table, where)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, stmt, args, 0)
}

func (s *Store) log(stmt string, args []any) {
	s.logger.Debug("sql", zap.String("stmt", stmt), zap.Any("args", args))
}

// query runs stmt and scans its rows, leaving out the last trailing columns.
func (s *Store) query(ctx context.Context, stmt string, args []any, trailing int) ([]query.Record, error) {
	s.log(stmt, args)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows, trailing)
}

// orderColumns is the number of ORDER BY terms renderSelect appends to the
// select list of sel.
func orderColumns(sel *query.Select) int {
	if distinct(sel.Joins) {
		return len(sel.OrderBy)
	}
	return 0
}

func scanRecords(rows *sql.Rows, trailing int) ([]query.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	keep := max(len(columns)-trailing, 0)

	records := []query.Record{}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		rec := make(query.Record, keep)
		for i, name := range columns[:keep] {
			// drivers return text as []byte
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			rec[name] = values[i]
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
