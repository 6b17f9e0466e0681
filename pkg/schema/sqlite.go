package schema

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
)

// LoadSQLite reads the tables and views of a SQLite database through
// sqlite_master and the table_info / foreign_key_list pragmas.
func LoadSQLite(ctx context.Context, db *sql.DB) (Tables, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query sqlite_master: %w", err)
	}

	var tables []Table
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			rows.Close()
			return nil, err
		}
		t := Table{Name: name, Type: TypeTable}
		if kind == "view" {
			t.Type = TypeView
		}
		tables = append(tables, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make(Tables, len(tables))
	for _, t := range tables {
		if t.Columns, t.PrimaryKeys, err = sqliteColumns(ctx, db, t.Name); err != nil {
			return nil, fmt.Errorf("table_info %s: %w", t.Name, err)
		}
		if t.Type == TypeTable {
			if t.ForeignKeys, err = sqliteForeignKeys(ctx, db, t.Name); err != nil {
				return nil, fmt.Errorf("foreign_key_list %s: %w", t.Name, err)
			}
		}
		result[t.Name] = t
	}
	DeriveRelationships(result)
	return result, nil
}

func sqliteColumns(ctx context.Context, db *sql.DB, table string) ([]Column, []string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLite(table)))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	type pkCol struct {
		name string
		pos  int
	}
	var cols []Column
	var pks []pkCol
	for rows.Next() {
		var (
			cid     int
			col     Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col.Name, &col.DataType, &notNull, &dflt, &pk); err != nil {
			return nil, nil, err
		}
		col.IsNullable = notNull == 0 && pk == 0
		col.IsPrimaryKey = pk > 0
		cols = append(cols, col)
		if pk > 0 {
			pks = append(pks, pkCol{col.Name, pk})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	// pk is the 1-based position within the primary key
	slices.SortFunc(pks, func(a, b pkCol) int { return a.pos - b.pos })
	pkeys := make([]string, len(pks))
	for i, p := range pks {
		pkeys[i] = p.name
	}
	return cols, pkeys, nil
}

func sqliteForeignKeys(ctx context.Context, db *sql.DB, table string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteSQLite(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fkeys []ForeignKey
	for rows.Next() {
		var (
			id, seq                     int
			fk                          ForeignKey
			to                          sql.NullString
			onUpdate, onDelete, matchTy string
		)
		if err := rows.Scan(&id, &seq, &fk.ReferencedTable, &fk.Column, &to, &onUpdate, &onDelete, &matchTy); err != nil {
			return nil, err
		}
		// a NULL "to" column references the parent's primary key
		fk.ReferencedColumn = to.String
		fkeys = append(fkeys, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, fk := range fkeys {
		if fk.ReferencedColumn != "" {
			continue
		}
		_, pkeys, err := sqliteColumns(ctx, db, fk.ReferencedTable)
		if err != nil {
			return nil, err
		}
		if len(pkeys) > 0 {
			fkeys[i].ReferencedColumn = pkeys[0]
		}
	}
	return fkeys, nil
}

func quoteSQLite(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
