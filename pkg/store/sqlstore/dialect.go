package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Dialect covers the SQL differences between the supported databases.
type Dialect struct {
	Name string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
}

var (
	Postgres = Dialect{Name: "postgres", numbered: true}
	SQLite   = Dialect{Name: "sqlite3"}
)

// DialectFor returns the dialect of a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// Placeholder returns the bind parameter for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Quote quotes an identifier. Both dialects accept Postgres-style quoting.
func (d Dialect) Quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// Table quotes a catalog key, "name" or "schema.name".
func (d Dialect) Table(key string) string {
	if schema, name, ok := strings.Cut(key, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return d.Quote(key)
}
