package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/edgeflare/restlet/pkg/metrics"
	"github.com/edgeflare/restlet/pkg/query"
	"github.com/edgeflare/restlet/pkg/schema"
	"go.uber.org/zap"
)

// Store is the data-access collaborator the standard verbs run on.
// sqlstore.Store implements it.
type Store interface {
	Find(ctx context.Context, sel *query.Select) ([]query.Record, error)
	Count(ctx context.Context, sel *query.Select) (int, error)
	Insert(ctx context.Context, table string, values query.Record) (query.Record, error)
	Update(ctx context.Context, table string, where query.Expr, values query.Record) ([]query.Record, error)
	Delete(ctx context.Context, table string, where query.Expr) ([]query.Record, error)
}

// Verbs serves the standard methods of a resource. Embed DefaultVerbs to
// override some of them.
type Verbs interface {
	Get(c *Context) (any, error)
	Post(c *Context) (any, error)
	Put(c *Context) (any, error)
	Delete(c *Context) (any, error)
	Head(c *Context) (any, error)
	Options(c *Context) (any, error)
}

// DefaultVerbs maps the standard methods onto the resource's table.
type DefaultVerbs struct{}

var _ Verbs = DefaultVerbs{}

// serveVerb calls the method of v for the dispatched verb. PATCH shares PUT's
// partial-update semantics.
func serveVerb(v Verbs, c *Context) (any, error) {
	switch c.Match.Verb {
	case http.MethodGet:
		return v.Get(c)
	case http.MethodPost:
		return v.Post(c)
	case http.MethodPut, http.MethodPatch:
		return v.Put(c)
	case http.MethodDelete:
		return v.Delete(c)
	case http.MethodHead:
		return v.Head(c)
	case http.MethodOptions:
		return v.Options(c)
	default:
		return nil, MethodNotAllowed("%s not allowed on %s", c.Match.Verb, c.Resource.name)
	}
}

func (DefaultVerbs) Get(c *Context) (any, error) {
	if c.Key() != "" {
		return getOne(c)
	}
	return getMany(c)
}

// Head is Get; the server omits the body.
func (v DefaultVerbs) Head(c *Context) (any, error) {
	return v.Get(c)
}

func (DefaultVerbs) Post(c *Context) (any, error) {
	d := c.Resource
	if c.Key() != "" {
		return nil, MethodNotAllowed("POST not allowed on a single %s", d.name)
	}

	var body map[string]any
	if err := c.Bind(&body); err != nil {
		return nil, err
	}
	rec, err := d.prepareWrite(body, true)
	if err != nil {
		return nil, err
	}

	row, err := c.Store.Insert(c.Request.Context(), d.tableKey, rec)
	if err != nil {
		return nil, err
	}
	c.Status(http.StatusCreated)
	if d.pk != "" && row[d.pk] != nil {
		c.Writer.Header().Set("Location", path.Join(c.Request.URL.Path, fmt.Sprint(row[d.pk])))
	}
	return ProjectOne(c.Ref(), d, row, query.Controls{})
}

// Put updates the fields present in the body of the addressed record.
func (DefaultVerbs) Put(c *Context) (any, error) {
	d := c.Resource
	if c.Key() == "" {
		return nil, MethodNotAllowed("%s not allowed on the %s collection", c.Match.Verb, d.name)
	}

	var body map[string]any
	if err := c.Bind(&body); err != nil {
		return nil, err
	}
	rec, err := d.prepareWrite(body, false)
	if err != nil {
		return nil, err
	}
	if len(rec) == 0 {
		return nil, BadRequest("no fields to update")
	}

	where, err := keyPredicate(d, c.Key())
	if err != nil {
		return nil, err
	}
	rows, err := c.Store.Update(c.Request.Context(), d.tableKey, where, rec)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NotFound("%s %q not found", d.name, c.Key())
	}
	return ProjectOne(c.Ref(), d, rows[0], query.Controls{})
}

// Delete removes the addressed record and returns it.
func (DefaultVerbs) Delete(c *Context) (any, error) {
	d := c.Resource
	if c.Key() == "" {
		return nil, MethodNotAllowed("DELETE not allowed on the %s collection", d.name)
	}
	where, err := keyPredicate(d, c.Key())
	if err != nil {
		return nil, err
	}
	rows, err := c.Store.Delete(c.Request.Context(), d.tableKey, where)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NotFound("%s %q not found", d.name, c.Key())
	}
	return ProjectOne(c.Ref(), d, rows[0], query.Controls{})
}

// Description is the OPTIONS response body.
type Description struct {
	Model      string             `json:"model" yaml:"model"`
	Methods    []string           `json:"methods" yaml:"methods"`
	PrimaryKey string             `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Fields     []FieldDescription `json:"fields" yaml:"fields"`
	Routes     []string           `json:"routes,omitempty" yaml:"routes,omitempty"`
}

type FieldDescription struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Nullable bool   `json:"nullable" yaml:"nullable"`
	Writable bool   `json:"writable" yaml:"writable"`
}

func (DefaultVerbs) Options(c *Context) (any, error) {
	d := c.Resource
	c.Writer.Header().Set("Allow", strings.Join(d.methods, ", "))
	return d.Describe(), nil
}

// Describe lists the methods, visible fields and routes of d.
func (d *Descriptor) Describe() *Description {
	desc := &Description{
		Model:      d.name,
		Methods:    d.Methods(),
		PrimaryKey: d.pk,
		Fields:     []FieldDescription{},
	}
	for _, col := range d.table.Columns {
		if d.invisible[col.Name] {
			continue
		}
		desc.Fields = append(desc.Fields, FieldDescription{
			Name:     col.Name,
			Type:     col.Class().String(),
			Nullable: col.IsNullable,
			Writable: d.Writable(col.Name),
		})
	}
	for _, r := range d.routes {
		desc.Routes = append(desc.Routes, r.Pattern)
	}
	return desc
}

func getOne(c *Context) (any, error) {
	d := c.Resource
	ctrl, _, err := query.ParseQuery(c.Request.URL.RawQuery)
	if err != nil {
		return nil, BadRequest("invalid query string").Wrap(err)
	}
	if err := checkExtend(ctrl); err != nil {
		return nil, err
	}
	where, err := keyPredicate(d, c.Key())
	if err != nil {
		return nil, err
	}

	rows, err := c.Store.Find(c.Request.Context(), &query.Select{Table: d.tableKey, Where: where, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NotFound("%s %q not found", d.name, c.Key())
	}
	return ProjectOne(c.Ref(), d, rows[0], ctrl)
}

func getMany(c *Context) (any, error) {
	d := c.Resource
	ctrl, group, err := query.ParseQuery(c.Request.URL.RawQuery)
	if err != nil {
		return nil, BadRequest("invalid query string").Wrap(err)
	}
	if err := checkExtend(ctrl); err != nil {
		return nil, err
	}

	compiler := c.Compiler()
	where, joins, dropped, err := compiler.CompileGroup(d.tableKey, group)
	if err != nil {
		return nil, err
	}
	if len(dropped) > 0 {
		metrics.DroppedFilters.WithLabelValues(d.name).Add(float64(len(dropped)))
		c.Logger.Debug("dropped filters", zap.Strings("keys", dropped))
		if c.Prefer().Strict() {
			e := BadRequest("invalid filters").WithCode("invalid_filter")
			for _, k := range dropped {
				e = e.WithField(k, "no such field or lookup")
			}
			return nil, e
		}
	}

	orderBy := ctrl.OrderBy
	if len(orderBy) == 0 {
		orderBy = d.orderBy
	}
	orders, joins := compiler.CompileOrder(d.tableKey, orderBy, joins)

	sel := &query.Select{
		Table:   d.tableKey,
		Where:   where,
		Joins:   joins,
		OrderBy: orders,
		Offset:  ctrl.Begin,
		Limit:   ctrl.Limit,
	}
	rows, err := c.Store.Find(c.Request.Context(), sel)
	if err != nil {
		return nil, err
	}
	total, err := c.Store.Count(c.Request.Context(), sel)
	if err != nil {
		return nil, err
	}
	return Project(c.Ref(), d, rows, ctrl, total)
}

// checkExtend rejects __extend_fields: related objects are never embedded.
func checkExtend(ctrl query.Controls) error {
	if len(ctrl.ExtendFields) > 0 {
		return NotImplemented("__extend_fields is not supported").WithCode("extend_fields")
	}
	return nil
}

// keyPredicate matches the primary key against key. A key that does not
// parse as the key column's class cannot address a record.
func keyPredicate(d *Descriptor, key string) (query.Expr, error) {
	col, ok := d.table.Column(d.pk)
	if !ok {
		return nil, NotFound("%s has no primary key", d.name)
	}
	v, err := query.Coerce(col.Class(), key)
	if err != nil {
		return nil, NotFound("%s %q not found", d.name, key)
	}
	return query.Compare{Field: query.FieldRef{Column: d.pk}, Op: query.Eq, Value: v}, nil
}

// prepareWrite turns a request body into the values stored by an insert or
// update: unknown and non-writable fields are rejected, generators fill the
// fields an insert lacks, then validators and encoders run.
func (d *Descriptor) prepareWrite(body map[string]any, insert bool) (query.Record, error) {
	rec := make(query.Record, len(body))
	invalid := BadRequest("invalid fields").WithCode("invalid_field")
	for _, k := range slices.Sorted(maps.Keys(body)) {
		col, ok := d.table.Column(k)
		switch {
		case !ok:
			invalid = invalid.WithField(k, "unknown field")
		case !d.Writable(k):
			invalid = invalid.WithField(k, "read-only field")
		default:
			rec[k] = normalize(col, body[k])
		}
	}
	if len(invalid.Fields) > 0 {
		return nil, invalid
	}

	if insert {
		for _, f := range slices.Sorted(maps.Keys(d.generators)) {
			if _, ok := rec[f]; ok {
				continue
			}
			v, err := d.generators[f](rec)
			if err != nil {
				return nil, AsError(err)
			}
			rec[f] = v
		}
	}

	failed := BadRequest("validation failed").WithCode("validation")
	for _, f := range slices.Sorted(maps.Keys(d.validators)) {
		v, ok := rec[f]
		if !ok {
			continue
		}
		if err := d.validators[f](v, rec); err != nil {
			failed = failed.WithField(f, err.Error())
		}
	}
	if len(failed.Fields) > 0 {
		return nil, failed
	}

	for _, f := range slices.Sorted(maps.Keys(d.encoders)) {
		v, ok := rec[f]
		if !ok {
			continue
		}
		enc, err := d.encoders[f](v)
		if err != nil {
			return nil, BadRequest("invalid value").WithField(f, err.Error())
		}
		rec[f] = enc
	}
	return rec, nil
}

// normalize converts JSON numbers to the Go type of the column's class.
func normalize(col schema.Column, v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	switch col.Class() {
	case schema.ClassInteger:
		if i, err := n.Int64(); err == nil {
			return i
		}
	case schema.ClassString, schema.ClassUUID, schema.ClassTime:
		return n.String()
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
