package query

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/edgeflare/restlet/pkg/schema"
	"github.com/google/uuid"
)

// ErrUnsupportedLookup is returned for lookup operators that are recognized but
// have no predicate, such as the time-component lookups (year, month, ...).
var ErrUnsupportedLookup = errors.New("query: unsupported lookup operator")

// EncoderFunc converts a raw filter value into the value stored in the column,
// e.g. hashing a password before comparison.
type EncoderFunc func(value any) (any, error)

// EncoderSource looks up the encoder registered for a column of a table.
type EncoderSource interface {
	Encoder(table, field string) (EncoderFunc, bool)
}

const (
	lookupNot        = "not"
	lookupContains   = "contains"
	lookupStartsWith = "startswith"
	lookupEndsWith   = "endswith"
	lookupIn         = "in"
	lookupRange      = "range"
	lookupLt         = "lt"
	lookupLte        = "lte"
	lookupGt         = "gt"
	lookupGte        = "gte"
)

var timeLookups = []string{"year", "month", "day", "hour", "minute", "weekday"}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// Compiler compiles filter keys into expressions against a Catalog.
// Encoders may be nil.
type Compiler struct {
	Catalog  schema.Catalog
	Encoders EncoderSource
}

// Compile resolves the dotted key against table and builds the predicate for
// value. Relationships traversed on the way are appended to joins, which is
// returned even when no predicate could be built.
//
// A key that names no column or relationship, an unknown lookup operator or a
// value that does not fit the column yields a nil Expr and a nil error: the
// caller drops the filter. The only errors are ErrUnsupportedLookup and
// schema.ErrTableNotFound for an unknown root table.
func (c *Compiler) Compile(table string, key []string, value any, joins []Join) (Expr, []Join, error) {
	t, ok := c.Catalog.Table(table)
	if !ok {
		return nil, joins, fmt.Errorf("%w: %s", schema.ErrTableNotFound, table)
	}
	return c.compile(t, nil, key, value, joins)
}

func (c *Compiler) compile(t *schema.Table, path, key []string, value any, joins []Join) (Expr, []Join, error) {
	if len(key) == 0 {
		return nil, joins, nil
	}
	segment, rest := key[0], key[1:]
	fieldName, lookups, _ := strings.Cut(segment, lookupSep)

	if col, ok := t.Column(fieldName); ok {
		if len(rest) > 0 {
			return nil, joins, nil
		}
		field := FieldRef{Path: slices.Clone(path), Column: col.Name}
		e, err := c.predicate(t, col, field, lookups, value)
		return e, joins, err
	}

	rel, ok := t.Relationship(fieldName)
	if !ok || len(rest) == 0 || lookups != "" {
		return nil, joins, nil
	}
	target, ok := c.Catalog.Table(rel.Target)
	if !ok {
		return nil, joins, nil
	}

	relPath := append(slices.Clone(path), rel.Name)
	joins = addJoin(joins, Join{Path: relPath, From: t.Key(), Relationship: rel})
	return c.compile(target, relPath, rest, value, joins)
}

func addJoin(joins []Join, j Join) []Join {
	for _, existing := range joins {
		if existing.Alias() == j.Alias() {
			return joins
		}
	}
	return append(joins, j)
}

// predicate builds the expression for one column. lookups is the "__"-joined
// operator suffix of the key, e.g. "", "gte", "not" or "in__not".
func (c *Compiler) predicate(t *schema.Table, col schema.Column, field FieldRef, lookups string, value any) (Expr, error) {
	var op string
	negate := false
	if lookups != "" {
		for _, l := range strings.Split(lookups, lookupSep) {
			switch {
			case l == lookupNot && !negate:
				negate = true
			case op == "" && l != lookupNot:
				op = l
			default:
				return nil, nil
			}
		}
	}

	if slices.Contains(timeLookups, op) {
		return nil, fmt.Errorf("%w: %s__%s", ErrUnsupportedLookup, field, op)
	}

	enc := c.encoder(t, col)
	var e Expr
	switch op {
	case "":
		e = equality(field, enc, value)
	case lookupLt, lookupLte, lookupGt, lookupGte:
		e = comparison(field, comparisonOps[op], enc, value)
	case lookupContains, lookupStartsWith, lookupEndsWith:
		e = match(field, matchKinds[op], enc, value)
	case lookupIn:
		e = membership(field, enc, value)
	case lookupRange:
		e = between(field, enc, value)
	}

	if e == nil || !negate {
		return e, nil
	}
	return Not{Expr: e}, nil
}

var comparisonOps = map[string]Op{lookupLt: Lt, lookupLte: Lte, lookupGt: Gt, lookupGte: Gte}

var matchKinds = map[string]MatchKind{lookupContains: Contains, lookupStartsWith: StartsWith, lookupEndsWith: EndsWith}

// equality compares with a single value; a repeated key becomes membership.
func equality(field FieldRef, enc EncoderFunc, value any) Expr {
	if _, ok := value.([]string); ok {
		return membership(field, enc, value)
	}
	return comparison(field, Eq, enc, value)
}

func comparison(field FieldRef, op Op, enc EncoderFunc, value any) Expr {
	raw, ok := value.(string)
	if !ok {
		return nil
	}
	v, err := enc(raw)
	if err != nil {
		return nil
	}
	return Compare{Field: field, Op: op, Value: v}
}

func match(field FieldRef, kind MatchKind, enc EncoderFunc, value any) Expr {
	raw, ok := value.(string)
	if !ok {
		return nil
	}
	v, err := enc(raw)
	if err != nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	return Match{Field: field, Kind: kind, Value: s}
}

func membership(field FieldRef, enc EncoderFunc, value any) Expr {
	items := listValue(value)
	if len(items) == 0 {
		return nil
	}
	vals := make([]any, len(items))
	for i, item := range items {
		v, err := enc(item)
		if err != nil {
			return nil
		}
		vals[i] = v
	}
	return In{Field: field, Values: vals}
}

// between is an inclusive range over exactly two bounds.
func between(field FieldRef, enc EncoderFunc, value any) Expr {
	bounds := listValue(value)
	if len(bounds) != 2 {
		return nil
	}
	lo, err := enc(bounds[0])
	if err != nil {
		return nil
	}
	hi, err := enc(bounds[1])
	if err != nil {
		return nil
	}
	return And{
		Compare{Field: field, Op: Gte, Value: lo},
		Compare{Field: field, Op: Lte, Value: hi},
	}
}

func listValue(value any) []string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, listSep)
	case []string:
		return v
	default:
		return nil
	}
}

// encoder returns the registered encoder of the column, or a coercion to the
// column's type class when there is none.
func (c *Compiler) encoder(t *schema.Table, col schema.Column) EncoderFunc {
	if c.Encoders != nil {
		if enc, ok := c.Encoders.Encoder(t.Key(), col.Name); ok {
			return enc
		}
	}
	class := col.Class()
	return func(value any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		return Coerce(class, s)
	}
}

// Coerce parses s as a value of class. Strings and unknown classes pass
// through unchanged.
func Coerce(class schema.Class, s string) (any, error) {
	t := strings.TrimSpace(s)
	switch class {
	case schema.ClassInteger:
		return strconv.ParseInt(t, 10, 64)
	case schema.ClassFloat:
		return strconv.ParseFloat(t, 64)
	case schema.ClassBool:
		return strconv.ParseBool(t)
	case schema.ClassUUID:
		u, err := uuid.Parse(t)
		if err != nil {
			return nil, err
		}
		return u.String(), nil
	case schema.ClassTime:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("query: invalid time %q", s)
	default:
		return s, nil
	}
}

// CompileGroup compiles every filter of g against table and combines them:
// the AND-group and each OR-group are conjoined, members of an OR-group are
// disjoined. Keys that yield no predicate are returned in dropped.
func (c *Compiler) CompileGroup(table string, g FilterGroup) (Expr, []Join, []string, error) {
	var (
		terms   And
		joins   []Join
		dropped []string
	)

	compileFilter := func(f Filter) (Expr, error) {
		e, j, err := c.Compile(table, f.Path(), f.Value, joins)
		if err != nil {
			return nil, err
		}
		if e == nil {
			dropped = append(dropped, f.Key)
			return nil, nil
		}
		joins = j
		return e, nil
	}

	for _, f := range g.And {
		e, err := compileFilter(f)
		if err != nil {
			return nil, nil, nil, err
		}
		if e != nil {
			terms = append(terms, e)
		}
	}

	for _, group := range g.Or {
		var members Or
		for _, f := range group.Filters {
			e, err := compileFilter(f)
			if err != nil {
				return nil, nil, nil, err
			}
			if e != nil {
				members = append(members, e)
			}
		}
		switch len(members) {
		case 0:
		case 1:
			terms = append(terms, members[0])
		default:
			terms = append(terms, members)
		}
	}

	switch len(terms) {
	case 0:
		return nil, joins, dropped, nil
	case 1:
		return terms[0], joins, dropped, nil
	default:
		return terms, joins, dropped, nil
	}
}

// CompileOrder resolves "field", "-field" and "+field" terms, including dotted
// paths through many-to-one relationships. Unknown fields are skipped.
func (c *Compiler) CompileOrder(table string, fields []string, joins []Join) ([]Order, []Join) {
	t, ok := c.Catalog.Table(table)
	if !ok {
		return nil, joins
	}

	var orders []Order
	for _, f := range fields {
		desc := strings.HasPrefix(f, "-")
		f = strings.TrimLeft(f, "+-")
		field, j, ok := c.resolve(t, nil, strings.Split(f, pathSep), joins)
		if !ok {
			continue
		}
		joins = j
		orders = append(orders, Order{Field: field, Desc: desc})
	}
	return orders, joins
}

// resolve walks path to a column without lookup operators.
func (c *Compiler) resolve(t *schema.Table, prefix, path []string, joins []Join) (FieldRef, []Join, bool) {
	if len(path) == 0 {
		return FieldRef{}, joins, false
	}
	if col, ok := t.Column(path[0]); ok && len(path) == 1 {
		return FieldRef{Path: slices.Clone(prefix), Column: col.Name}, joins, true
	}

	// ordering through a one-to-many relationship has no single value per row
	rel, ok := t.Relationship(path[0])
	if !ok || len(path) == 1 || rel.Direction == schema.OneToMany {
		return FieldRef{}, joins, false
	}
	target, ok := c.Catalog.Table(rel.Target)
	if !ok {
		return FieldRef{}, joins, false
	}
	relPath := append(slices.Clone(prefix), rel.Name)
	field, j, ok := c.resolve(target, relPath, path[1:], addJoin(slices.Clone(joins), Join{Path: relPath, From: t.Key(), Relationship: rel}))
	if !ok {
		return FieldRef{}, joins, false
	}
	return field, j, true
}
