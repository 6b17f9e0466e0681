package schema

import (
	"context"
	"fmt"
	"maps"

	pg "github.com/edgeflare/restlet/pkg/pgx"
)

// Load reads every non-system table, view and materialized view of a
// PostgreSQL database and derives their relationships.
func Load(ctx context.Context, conn pg.Conn) (Tables, error) {
	schemas, err := querySchemas(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}

	tables := make(Tables)
	for _, schema := range schemas {
		if isSystem(schema) {
			continue
		}

		schemaTables, err := loadSchema(ctx, conn, schema)
		if err != nil {
			return nil, fmt.Errorf("load schema %s: %w", schema, err)
		}

		maps.Copy(tables, schemaTables)
	}
	DeriveRelationships(tables)
	return tables, nil
}

func loadSchema(ctx context.Context, conn pg.Conn, schema string) (Tables, error) {
	tableRows, err := conn.Query(ctx, `
    SELECT table_schema, table_name, 'TABLE'::text as table_type
        FROM information_schema.tables
        WHERE table_schema = $1 AND table_type = 'BASE TABLE'
        UNION ALL
        SELECT table_schema, table_name, 'VIEW'::text as table_type
        FROM information_schema.views
        WHERE table_schema = $1
        UNION ALL
        SELECT schemaname, matviewname, 'MATERIALIZED VIEW'::text as table_type
        FROM pg_matviews
        WHERE schemaname = $1
        ORDER BY table_schema, table_name`, schema)
	if err != nil {
		return nil, err
	}

	var tables []Table
	for tableRows.Next() {
		var t Table
		var tableTypeStr string
		if err := tableRows.Scan(&t.Schema, &t.Name, &tableTypeStr); err != nil {
			tableRows.Close()
			return nil, err
		}
		t.Type = TableType(tableTypeStr)
		tables = append(tables, t)
	}
	tableRows.Close()
	if err := tableRows.Err(); err != nil {
		return nil, err
	}

	result := make(Tables, len(tables))
	for _, t := range tables {
		if t.Type != TypeTable {
			def, err := queryViewDefinition(ctx, conn, t)
			if err != nil {
				return nil, err
			}
			t.ViewQuery = def
		}

		// works for both tables and views
		cols, pkeys, err := queryColumns(ctx, conn, t.Schema, t.Name)
		if err != nil {
			return nil, fmt.Errorf("query columns %s: %w", t.Key(), err)
		}
		t.Columns = cols
		t.PrimaryKeys = pkeys

		// views don't have foreign keys directly
		if t.Type == TypeTable {
			fkeys, err := queryForeignKeys(ctx, conn, t.Schema, t.Name)
			if err != nil {
				return nil, fmt.Errorf("query foreign keys %s: %w", t.Key(), err)
			}
			t.ForeignKeys = fkeys
		}

		result[t.Key()] = t
	}
	return result, nil
}

func queryViewDefinition(ctx context.Context, conn pg.Conn, t Table) (string, error) {
	query := `SELECT view_definition FROM information_schema.views WHERE table_schema = $1 AND table_name = $2`
	if t.Type == TypeMaterializedView {
		query = `SELECT definition FROM pg_matviews WHERE schemaname = $1 AND matviewname = $2`
	}

	var def *string
	if err := conn.QueryRow(ctx, query, t.Schema, t.Name).Scan(&def); err != nil {
		return "", fmt.Errorf("get view definition %s: %w", t.Key(), err)
	}
	if def == nil {
		return "", nil
	}
	return *def, nil
}

func queryColumns(ctx context.Context, conn pg.Conn, schema, table string) ([]Column, []string, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = $1
					AND tc.table_name = $2
					AND kcu.column_name = c.column_name
			) AS is_primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, schema, table)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var cols []Column
	var pkeys []string
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.IsPrimaryKey); err != nil {
			return nil, nil, err
		}
		cols = append(cols, col)
		if col.IsPrimaryKey {
			pkeys = append(pkeys, col.Name)
		}
	}
	return cols, pkeys, rows.Err()
}

func queryForeignKeys(ctx context.Context, conn pg.Conn, schema, table string) ([]ForeignKey, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			kcu.column_name,
			ccu.table_schema,
			ccu.table_name,
			ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fkeys []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		var refSchema string
		if err := rows.Scan(&fk.Column, &refSchema, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, err
		}
		fk.ReferencedTable = tableKey(refSchema, fk.ReferencedTable)
		fkeys = append(fkeys, fk)
	}
	return fkeys, rows.Err()
}

func querySchemas(ctx context.Context, conn pg.Conn) ([]string, error) {
	rows, err := conn.Query(ctx, `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var schema string
		if err := rows.Scan(&schema); err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, rows.Err()
}

func isSystem(schema string) bool {
	switch schema {
	case "information_schema", "pg_catalog", "pg_toast", "pg_temp_1", "pg_toast_temp_1":
		return true
	default:
		return false
	}
}
