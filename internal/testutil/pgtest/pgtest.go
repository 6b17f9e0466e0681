// Package pgtest connects tests to the PostgreSQL database named by TEST_DATABASE.
// Tests using it are skipped when the variable is unset.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

const envTestDatabase = "TEST_DATABASE"

// ConnString returns TEST_DATABASE or skips the test.
func ConnString(t testing.TB) string {
	t.Helper()
	connString := os.Getenv(envTestDatabase)
	if connString == "" {
		t.Skipf("%s not set", envTestDatabase)
	}
	return connString
}

// Connect creates a new database connection for testing
func Connect(ctx context.Context, t testing.TB) *pgx.Conn {
	conn, err := pgx.ConnectConfig(ctx, ParseConfig(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		Close(t, conn)
	})

	return conn
}

// Close safely closes a database connection
func Close(t testing.TB, conn *pgx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Close(ctx))
}

// ParseConfig returns a test connection config with logging
func ParseConfig(t testing.TB) *pgx.ConnConfig {
	config, err := pgx.ParseConfig(ConnString(t))
	require.NoError(t, err)

	config.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}

	return config
}
