// Package schema describes the relational tables exposed as REST resources:
// columns with their type class, nullability and primary-key flags, and the
// relationships between tables derived from foreign keys.
//
// Tables are loaded from PostgreSQL (see Cache, Load) or SQLite (see LoadSQLite),
// or declared in code with NewCatalog.
package schema

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var ErrTableNotFound = errors.New("table not found")

type TableType string

const (
	TypeTable            TableType = "TABLE"
	TypeView             TableType = "VIEW"
	TypeMaterializedView TableType = "MATERIALIZED VIEW"
)

type Table struct {
	Schema        string         `json:"schema,omitempty"`
	Name          string         `json:"name"`
	Type          TableType      `json:"type"`
	Columns       []Column       `json:"columns"`
	PrimaryKeys   []string       `json:"primary_keys"`
	ForeignKeys   []ForeignKey   `json:"foreign_keys,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	ViewQuery     string         `json:"view_query,omitempty"`
}

type Column struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	IsNullable   bool   `json:"is_nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

// Class reports the type class of the column's declared data type.
func (c Column) Class() Class {
	return ClassOf(c.DataType)
}

type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Direction is the join direction of a relationship, seen from the table that owns it.
type Direction int

const (
	// ManyToOne joins through a foreign key column on the owning table.
	ManyToOne Direction = iota
	// OneToMany joins through a foreign key column on the target table.
	OneToMany
)

func (d Direction) String() string {
	switch d {
	case ManyToOne:
		return "many-to-one"
	case OneToMany:
		return "one-to-many"
	default:
		return "unknown"
	}
}

// Relationship is a named traversal from one table to another. A join on it
// matches Target.TargetColumn against the owning table's LocalColumn.
type Relationship struct {
	Name         string    `json:"name"`
	Target       string    `json:"target"`
	Direction    Direction `json:"direction"`
	LocalColumn  string    `json:"local_column"`
	TargetColumn string    `json:"target_column"`
}

// Catalog gives read access to table metadata by table name.
type Catalog interface {
	Table(name string) (*Table, bool)
}

// Key is the catalog key of t: the bare name for the public (or empty) schema,
// "schema.name" otherwise.
func (t *Table) Key() string {
	return tableKey(t.Schema, t.Name)
}

func tableKey(schema, name string) string {
	if schema == "" || schema == "public" {
		return name
	}
	return fmt.Sprintf("%s.%s", schema, name)
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Relationship returns the relationship with the given name.
func (t *Table) Relationship(name string) (Relationship, bool) {
	for _, r := range t.Relationships {
		if r.Name == name {
			return r, true
		}
	}
	return Relationship{}, false
}

// PrimaryKey returns the first primary key column. Composite keys are reduced
// to their first column.
func (t *Table) PrimaryKey() (Column, bool) {
	if len(t.PrimaryKeys) == 0 {
		return Column{}, false
	}
	return t.Column(t.PrimaryKeys[0])
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Introspect returns the column and relationship metadata of t.
func Introspect(t Table) ([]Column, []Relationship) {
	return slices.Clone(t.Columns), slices.Clone(t.Relationships)
}

// Tables is an in-memory Catalog keyed by table name.
type Tables map[string]Table

func (ts Tables) Table(name string) (*Table, bool) {
	t, ok := ts[name]
	if !ok {
		bare, public := strings.CutPrefix(name, "public.")
		if !public {
			return nil, false
		}
		if t, ok = ts[bare]; !ok {
			return nil, false
		}
	}
	return &t, true
}

// Names returns the sorted table names.
func (ts Tables) Names() []string {
	return slices.Sorted(maps.Keys(ts))
}

// NewCatalog builds a Catalog from tables declared in code. Primary keys are
// collected from column flags and relationships are derived from foreign keys.
func NewCatalog(tables ...Table) Tables {
	ts := make(Tables, len(tables))
	for _, t := range tables {
		if t.Type == "" {
			t.Type = TypeTable
		}
		if len(t.PrimaryKeys) == 0 {
			for _, c := range t.Columns {
				if c.IsPrimaryKey {
					t.PrimaryKeys = append(t.PrimaryKeys, c.Name)
				}
			}
		}
		ts[t.Key()] = t
	}
	DeriveRelationships(ts)
	return ts
}
