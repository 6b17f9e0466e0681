package sqlstore

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/edgeflare/restlet/pkg/query"
	"github.com/edgeflare/restlet/pkg/schema"
)

const (
	rootAlias = "t0"
	// prefix of the extra output columns carrying ORDER BY terms of a DISTINCT select
	orderPrefix = "__o"
)

// builder accumulates SQL text and bind arguments, numbering placeholders
// as arguments are added.
type builder struct {
	d       Dialect
	sql     strings.Builder
	args    []any
	root    string
	aliases map[string]string
}

func newBuilder(d Dialect, root string, joins []query.Join) *builder {
	b := &builder{d: d, root: root, aliases: map[string]string{"": root}}
	for i, j := range joins {
		b.aliases[j.Alias()] = "j" + strconv.Itoa(i+1)
	}
	return b
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sql.WriteString(p)
	}
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

func (b *builder) column(f query.FieldRef) (string, error) {
	alias, ok := b.aliases[f.Alias()]
	if !ok {
		return "", fmt.Errorf("sqlstore: no join for %s", f)
	}
	if alias == "" {
		return b.d.Quote(f.Column), nil
	}
	return alias + "." + b.d.Quote(f.Column), nil
}

func (b *builder) from(table string, joins []query.Join) error {
	b.write(" FROM ", b.d.Table(table), " AS ", b.root)
	for _, j := range joins {
		parent, ok := b.aliases[j.Parent()]
		if !ok {
			return fmt.Errorf("sqlstore: join %s before its parent", j.Alias())
		}
		alias := b.aliases[j.Alias()]
		rel := j.Relationship
		b.write(" LEFT JOIN ", b.d.Table(rel.Target), " AS ", alias,
			" ON ", alias, ".", b.d.Quote(rel.TargetColumn), " = ", parent, ".", b.d.Quote(rel.LocalColumn))
	}
	return nil
}

func (b *builder) where(e query.Expr) error {
	if e == nil {
		return nil
	}
	b.write(" WHERE ")
	return b.expr(e)
}

func (b *builder) expr(e query.Expr) error {
	switch e := e.(type) {
	case query.Compare:
		col, err := b.column(e.Field)
		if err != nil {
			return err
		}
		if e.Value == nil && e.Op == query.Eq {
			b.write(col, " IS NULL")
			return nil
		}
		b.write(col, " ", e.Op.String(), " ", b.arg(e.Value))
	case query.Match:
		col, err := b.column(e.Field)
		if err != nil {
			return err
		}
		b.write(col, " LIKE ", b.arg(likePattern(e.Kind, e.Value)), ` ESCAPE '\'`)
	case query.In:
		col, err := b.column(e.Field)
		if err != nil {
			return err
		}
		if len(e.Values) == 0 {
			b.write("1 = 0")
			return nil
		}
		placeholders := make([]string, len(e.Values))
		for i, v := range e.Values {
			placeholders[i] = b.arg(v)
		}
		b.write(col, " IN (", strings.Join(placeholders, ", "), ")")
	case query.And:
		return b.group(e, " AND ")
	case query.Or:
		return b.group(e, " OR ")
	case query.Not:
		b.write("NOT (")
		if err := b.expr(e.Expr); err != nil {
			return err
		}
		b.write(")")
	default:
		return fmt.Errorf("sqlstore: unsupported expression %T", e)
	}
	return nil
}

func (b *builder) group(exprs []query.Expr, sep string) error {
	b.write("(")
	for i, e := range exprs {
		if i > 0 {
			b.write(sep)
		}
		if err := b.expr(e); err != nil {
			return err
		}
	}
	b.write(")")
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(kind query.MatchKind, s string) string {
	s = likeEscaper.Replace(s)
	switch kind {
	case query.StartsWith:
		return s + "%"
	case query.EndsWith:
		return "%" + s
	default:
		return "%" + s + "%"
	}
}

// distinct reports whether the joins can multiply root rows.
func distinct(joins []query.Join) bool {
	return slices.ContainsFunc(joins, func(j query.Join) bool {
		return j.Relationship.Direction == schema.OneToMany
	})
}

func (b *builder) selectList(s *query.Select) {
	if len(s.Columns) == 0 {
		b.write(b.root, ".*")
		return
	}
	for i, c := range s.Columns {
		if i > 0 {
			b.write(", ")
		}
		b.write(b.root, ".", b.d.Quote(c))
	}
}

func renderSelect(d Dialect, s *query.Select) (string, []any, error) {
	b := newBuilder(d, rootAlias, s.Joins)
	dedupe := distinct(s.Joins)

	b.write("SELECT ")
	if dedupe {
		b.write("DISTINCT ")
	}
	b.selectList(s)

	// DISTINCT requires ORDER BY terms in the select list
	orderTerms := make([]string, len(s.OrderBy))
	for i, o := range s.OrderBy {
		col, err := b.column(o.Field)
		if err != nil {
			return "", nil, err
		}
		if dedupe {
			alias := b.d.Quote(orderPrefix + strconv.Itoa(i))
			b.write(", ", col, " AS ", alias)
			col = alias
		}
		if o.Desc {
			col += " DESC"
		} else {
			col += " ASC"
		}
		orderTerms[i] = col
	}

	if err := b.from(s.Table, s.Joins); err != nil {
		return "", nil, err
	}
	if err := b.where(s.Where); err != nil {
		return "", nil, err
	}
	if len(orderTerms) > 0 {
		b.write(" ORDER BY ", strings.Join(orderTerms, ", "))
	}

	switch {
	case s.Limit > 0:
		b.write(" LIMIT ", b.arg(s.Limit))
	case s.Offset > 0 && d == SQLite:
		// SQLite has no OFFSET without LIMIT
		b.write(" LIMIT -1")
	}
	if s.Offset > 0 {
		b.write(" OFFSET ", b.arg(s.Offset))
	}
	return b.sql.String(), b.args, nil
}

// renderCount counts the rows matched by s, ignoring its order and window.
func renderCount(d Dialect, s *query.Select) (string, []any, error) {
	b := newBuilder(d, rootAlias, s.Joins)
	dedupe := distinct(s.Joins)

	if dedupe {
		b.write("SELECT COUNT(*) FROM (SELECT DISTINCT ", rootAlias, ".*")
	} else {
		b.write("SELECT COUNT(*)")
	}
	if err := b.from(s.Table, s.Joins); err != nil {
		return "", nil, err
	}
	if err := b.where(s.Where); err != nil {
		return "", nil, err
	}
	if dedupe {
		b.write(") AS q")
	}
	return b.sql.String(), b.args, nil
}

func renderInsert(d Dialect, table string, values query.Record) (string, []any) {
	b := newBuilder(d, "", nil)
	b.write("INSERT INTO ", d.Table(table))

	if len(values) == 0 {
		b.write(" DEFAULT VALUES RETURNING *")
		return b.sql.String(), b.args
	}

	columns := sortedColumns(values)
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.Quote(c)
		placeholders[i] = b.arg(values[c])
	}
	b.write(" (", strings.Join(quoted, ", "), ") VALUES (", strings.Join(placeholders, ", "), ") RETURNING *")
	return b.sql.String(), b.args
}

func renderUpdate(d Dialect, table string, where query.Expr, values query.Record) (string, []any, error) {
	if len(values) == 0 {
		return "", nil, fmt.Errorf("sqlstore: no columns to update")
	}
	b := newBuilder(d, "", nil)
	b.write("UPDATE ", d.Table(table), " SET ")

	for i, c := range sortedColumns(values) {
		if i > 0 {
			b.write(", ")
		}
		b.write(d.Quote(c), " = ", b.arg(values[c]))
	}
	if err := b.where(where); err != nil {
		return "", nil, err
	}
	b.write(" RETURNING *")
	return b.sql.String(), b.args, nil
}

func renderDelete(d Dialect, table string, where query.Expr) (string, []any, error) {
	b := newBuilder(d, "", nil)
	b.write("DELETE FROM ", d.Table(table))
	if err := b.where(where); err != nil {
		return "", nil, err
	}
	b.write(" RETURNING *")
	return b.sql.String(), b.args, nil
}

func sortedColumns(values query.Record) []string {
	columns := make([]string, 0, len(values))
	for c := range values {
		columns = append(columns, c)
	}
	slices.Sort(columns)
	return columns
}
