package query

import (
	"fmt"
	"strings"

	"github.com/edgeflare/restlet/pkg/schema"
)

// Expr is a boolean predicate over the columns of a table and its joined
// relationships. Stores render it into their own query language.
type Expr interface {
	fmt.Stringer
	expr()
}

// FieldRef names a column reached through the relationship Path, which is
// empty for columns of the root table.
type FieldRef struct {
	Path   []string
	Column string
}

func (f FieldRef) String() string {
	if len(f.Path) == 0 {
		return f.Column
	}
	return strings.Join(f.Path, pathSep) + pathSep + f.Column
}

// Alias is the join the column belongs to, "" for the root table.
func (f FieldRef) Alias() string {
	return strings.Join(f.Path, pathSep)
}

type Op int

const (
	Eq Op = iota
	Lt
	Lte
	Gt
	Gte
)

func (o Op) String() string {
	switch o {
	case Lt:
		return "<"
	case Lte:
		return "<="
	case Gt:
		return ">"
	case Gte:
		return ">="
	default:
		return "="
	}
}

type MatchKind int

const (
	Contains MatchKind = iota
	StartsWith
	EndsWith
)

func (k MatchKind) String() string {
	switch k {
	case StartsWith:
		return "startswith"
	case EndsWith:
		return "endswith"
	default:
		return "contains"
	}
}

// Compare is Field <Op> Value.
type Compare struct {
	Field FieldRef
	Op    Op
	Value any
}

// Match is a substring, prefix or suffix match of a string value.
type Match struct {
	Field FieldRef
	Kind  MatchKind
	Value string
}

// In is membership of Field in Values.
type In struct {
	Field  FieldRef
	Values []any
}

type (
	And []Expr
	Or  []Expr
)

type Not struct {
	Expr Expr
}

func (Compare) expr() {}
func (Match) expr()   {}
func (In) expr()      {}
func (And) expr()     {}
func (Or) expr()      {}
func (Not) expr()     {}

func (c Compare) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
}

func (m Match) String() string {
	return fmt.Sprintf("%s %s %q", m.Field, m.Kind, m.Value)
}

func (in In) String() string {
	vals := make([]string, len(in.Values))
	for i, v := range in.Values {
		vals[i] = fmt.Sprint(v)
	}
	return fmt.Sprintf("%s IN (%s)", in.Field, strings.Join(vals, ", "))
}

func (a And) String() string { return joinExprs(a, " AND ") }
func (o Or) String() string  { return joinExprs(o, " OR ") }

func (n Not) String() string {
	return "NOT (" + n.Expr.String() + ")"
}

func joinExprs(exprs []Expr, sep string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		s := e.String()
		switch e.(type) {
		case And, Or:
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, sep)
}

// Join is a relationship traversal needed to evaluate a filter. Path holds the
// relationship names from the root table up to and including this one; From
// is the catalog key of the table the relationship starts from.
type Join struct {
	Path         []string
	From         string
	Relationship schema.Relationship
}

// Alias identifies the joined table in a query, e.g. "group" or "group.owner".
func (j Join) Alias() string {
	return strings.Join(j.Path, pathSep)
}

// Parent is the alias of the join this one starts from, "" for the root table.
func (j Join) Parent() string {
	return strings.Join(j.Path[:len(j.Path)-1], pathSep)
}

// Order is one ORDER BY term.
type Order struct {
	Field FieldRef
	Desc  bool
}

// Select is a read request handed to the data-access layer: the rows of Table
// matching Where, reached through Joins, sorted by OrderBy and windowed by
// Offset and Limit. A zero Limit means no limit.
type Select struct {
	Table   string
	Columns []string
	Where   Expr
	Joins   []Join
	OrderBy []Order
	Offset  int
	Limit   int
}

// Record is one row keyed by column name.
type Record map[string]any
