package schema

import (
	"slices"
	"strings"
)

// Class groups SQL data types by how their values are parsed and matched.
type Class int

const (
	ClassOther Class = iota
	ClassInteger
	ClassFloat
	ClassString
	ClassUUID
	ClassBool
	ClassTime
	ClassBinary
)

func (c Class) String() string {
	switch c {
	case ClassInteger:
		return "integer"
	case ClassFloat:
		return "float"
	case ClassString:
		return "string"
	case ClassUUID:
		return "uuid"
	case ClassBool:
		return "bool"
	case ClassTime:
		return "time"
	case ClassBinary:
		return "binary"
	default:
		return "other"
	}
}

// ClassOf maps a declared data type to its class. It understands PostgreSQL
// information_schema names (e.g. "character varying", "timestamp with time zone")
// and SQLite declared types (e.g. "INTEGER", "VARCHAR(50)").
func ClassOf(dataType string) Class {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch t {
	case "integer", "int", "int2", "int4", "int8", "smallint", "bigint", "tinyint", "mediumint",
		"serial", "smallserial", "bigserial", "serial4", "serial8", "unsigned big int":
		return ClassInteger
	case "real", "float", "float4", "float8", "double", "double precision", "numeric", "decimal", "money":
		return ClassFloat
	case "text", "varchar", "char", "character", "character varying", "nchar", "nvarchar",
		"varying character", "native character", "clob", "citext", "name", "bpchar":
		return ClassString
	case "uuid":
		return ClassUUID
	case "boolean", "bool":
		return ClassBool
	case "date", "time", "timestamp", "datetime", "timestamptz", "timetz",
		"timestamp with time zone", "timestamp without time zone",
		"time with time zone", "time without time zone":
		return ClassTime
	case "bytea", "blob":
		return ClassBinary
	case "interval", "point", "line", "lseg", "box", "path", "polygon", "circle",
		"int4range", "int8range", "numrange", "int4multirange", "int8multirange",
		"tsvector", "tsquery", "json", "jsonb", "xml", "inet", "cidr", "macaddr":
		// PostgreSQL types the affinity rules below would misread
		return ClassOther
	}

	// SQLite type affinity rules for anything else.
	switch {
	case strings.Contains(t, "int"):
		return ClassInteger
	case strings.Contains(t, "char"), strings.Contains(t, "clob"), strings.Contains(t, "text"):
		return ClassString
	case strings.Contains(t, "real"), strings.Contains(t, "floa"), strings.Contains(t, "doub"):
		return ClassFloat
	}
	return ClassOther
}

// DeriveRelationships adds relationships derived from foreign keys to every
// table in ts. A foreign key users.group_id -> groups.id yields "group" on users
// (many-to-one) and "users" on groups (one-to-many). Explicitly declared
// relationships win, and a derived name that clashes with a column is skipped.
func DeriveRelationships(ts Tables) {
	for _, name := range ts.Names() {
		t := ts[name]
		for _, fk := range t.ForeignKeys {
			if _, ok := ts[fk.ReferencedTable]; !ok {
				continue
			}

			ts[name] = addRelationship(ts[name], Relationship{
				Name:         manyToOneName(fk),
				Target:       fk.ReferencedTable,
				Direction:    ManyToOne,
				LocalColumn:  fk.Column,
				TargetColumn: fk.ReferencedColumn,
			})

			ts[fk.ReferencedTable] = addRelationship(ts[fk.ReferencedTable], Relationship{
				Name:         t.Name,
				Target:       name,
				Direction:    OneToMany,
				LocalColumn:  fk.ReferencedColumn,
				TargetColumn: fk.Column,
			})
		}
	}
}

func addRelationship(t Table, r Relationship) Table {
	if _, ok := t.Column(r.Name); ok {
		return t
	}
	if _, ok := t.Relationship(r.Name); ok {
		return t
	}
	t.Relationships = append(slices.Clone(t.Relationships), r)
	return t
}

func manyToOneName(fk ForeignKey) string {
	if name, ok := strings.CutSuffix(fk.Column, "_id"); ok && name != "" {
		return name
	}
	if i := strings.LastIndexByte(fk.ReferencedTable, '.'); i >= 0 {
		return fk.ReferencedTable[i+1:]
	}
	return fk.ReferencedTable
}
