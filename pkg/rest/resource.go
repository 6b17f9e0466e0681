package rest

import (
	"maps"
	"slices"
	"strings"

	"github.com/edgeflare/restlet/pkg/query"
	"github.com/edgeflare/restlet/pkg/schema"
)

// FieldFunc transforms one field value. Encoders run on filter values and
// written values, decoders on values read back.
type FieldFunc func(value any) (any, error)

// Validator checks a written value. rec holds every field of the write.
type Validator func(value any, rec query.Record) error

// Generator produces a value for a field missing from an insert.
type Generator func(rec query.Record) (any, error)

// Config declares a resource over one table. Zero values mean: every standard
// method allowed, every column changable, nothing read-only or invisible.
type Config struct {
	// Name is the model name reported in envelopes; defaults to Table.
	Name  string
	Table string

	Allowed []string
	Denied  []string

	Changable []string
	Readonly  []string
	Invisible []string

	// OrderBy is used when a request has no __order_by.
	OrderBy []string

	Encoders   map[string]FieldFunc
	Decoders   map[string]FieldFunc
	Validators map[string]Validator
	Generators map[string]Generator

	// Verbs serves the standard methods; defaults to DefaultVerbs.
	Verbs Verbs

	// Parent is a resource this one derives from. Its routes are tried after
	// this resource's own, and its field functions apply unless overridden.
	Parent *Descriptor
}

type routeDecl struct {
	pattern string
	handler Handler
	extra   map[string]any
	methods []string
}

// Builder collects the routes and field functions of a resource.
//
//	users, err := rest.NewBuilder(rest.Config{Name: "User", Table: "users", Invisible: []string{"password"}}).
//		Route("/login", login, http.MethodPost, http.MethodPut).
//		Encoder(hashPassword, "password").
//		Build(catalog)
type Builder struct {
	cfg    Config
	routes []routeDecl
}

func NewBuilder(cfg Config) *Builder {
	b := &Builder{cfg: cfg}
	b.cfg.Encoders = maps.Clone(cfg.Encoders)
	b.cfg.Decoders = maps.Clone(cfg.Decoders)
	b.cfg.Validators = maps.Clone(cfg.Validators)
	b.cfg.Generators = maps.Clone(cfg.Generators)
	return b
}

// Route adds a route accepting methods, or any method when none are given.
// Routes are tried in the order they are added.
func (b *Builder) Route(pattern string, h Handler, methods ...string) *Builder {
	return b.RouteWith(pattern, h, nil, methods...)
}

// RouteWith is Route with extra configuration passed to the handler as
// Context.Extra.
func (b *Builder) RouteWith(pattern string, h Handler, extra map[string]any, methods ...string) *Builder {
	b.routes = append(b.routes, routeDecl{pattern, h, extra, methods})
	return b
}

func (b *Builder) Encoder(fn FieldFunc, fields ...string) *Builder {
	b.cfg.Encoders = setAll(b.cfg.Encoders, fn, fields)
	return b
}

func (b *Builder) Decoder(fn FieldFunc, fields ...string) *Builder {
	b.cfg.Decoders = setAll(b.cfg.Decoders, fn, fields)
	return b
}

func (b *Builder) Validator(fn Validator, fields ...string) *Builder {
	b.cfg.Validators = setAll(b.cfg.Validators, fn, fields)
	return b
}

func (b *Builder) Generator(fn Generator, fields ...string) *Builder {
	b.cfg.Generators = setAll(b.cfg.Generators, fn, fields)
	return b
}

func setAll[F any](m map[string]F, fn F, fields []string) map[string]F {
	if m == nil {
		m = make(map[string]F, len(fields))
	}
	for _, f := range fields {
		m[f] = fn
	}
	return m
}

// Build resolves the resource against catalog and compiles its routes.
func Build(cfg Config, catalog schema.Catalog) (*Descriptor, error) {
	return NewBuilder(cfg).Build(catalog)
}

func (b *Builder) Build(catalog schema.Catalog) (*Descriptor, error) {
	cfg := b.cfg
	parent := cfg.Parent

	tableName := cfg.Table
	if tableName == "" && parent != nil {
		tableName = parent.tableKey
	}
	if tableName == "" {
		return nil, ConfigurationError("resource %q has no table", cfg.Name)
	}
	t, ok := catalog.Table(tableName)
	if !ok {
		return nil, ConfigurationError("resource %q: unknown table %q", cfg.Name, tableName)
	}

	d := &Descriptor{
		name:     cfg.Name,
		table:    t,
		tableKey: t.Key(),
		orderBy:  cfg.OrderBy,
		verbs:    cfg.Verbs,
	}
	if d.name == "" {
		d.name = t.Name
	}

	allowed := cfg.Allowed
	if len(allowed) == 0 {
		allowed = StandardMethods
	}
	allowed, err := normalizeMethods(allowed)
	if err != nil {
		return nil, err
	}
	denied, err := normalizeMethods(cfg.Denied)
	if err != nil {
		return nil, err
	}
	for _, m := range allowed {
		if !slices.Contains(denied, m) {
			d.methods = append(d.methods, m)
		}
	}

	columns := t.ColumnNames()
	changable := cfg.Changable
	if len(changable) == 0 {
		changable = columns
	}
	if d.changable, err = fieldSet(t, "changable", changable); err != nil {
		return nil, err
	}
	if d.readonly, err = fieldSet(t, "readonly", cfg.Readonly); err != nil {
		return nil, err
	}
	if d.invisible, err = fieldSet(t, "invisible", cfg.Invisible); err != nil {
		return nil, err
	}

	if parent != nil {
		d.encoders = inherit(parent.encoders, cfg.Encoders)
		d.decoders = inherit(parent.decoders, cfg.Decoders)
		d.validators = inherit(parent.validators, cfg.Validators)
		d.generators = inherit(parent.generators, cfg.Generators)
		if d.verbs == nil {
			d.verbs = parent.verbs
		}
		if len(d.orderBy) == 0 {
			d.orderBy = parent.orderBy
		}
	} else {
		d.encoders = cfg.Encoders
		d.decoders = cfg.Decoders
		d.validators = cfg.Validators
		d.generators = cfg.Generators
	}
	if d.verbs == nil {
		d.verbs = DefaultVerbs{}
	}

	for _, err := range []error{
		checkFields(t, d.encoders),
		checkFields(t, d.decoders),
		checkFields(t, d.validators),
		checkFields(t, d.generators),
	} {
		if err != nil {
			return nil, err
		}
	}

	for _, decl := range b.routes {
		r, err := compileRoute(decl.pattern, decl.handler, decl.extra, decl.methods)
		if err != nil {
			return nil, err
		}
		d.routes = append(d.routes, r)
	}
	if parent != nil {
		d.routes = append(d.routes, parent.routes...)
	}

	d.pkRoute, d.pk = primaryKeyRoute(t)
	return d, nil
}

func fieldSet(t *schema.Table, kind string, fields []string) (map[string]bool, error) {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if _, ok := t.Column(f); !ok {
			return nil, ConfigurationError("%s field %q is not a column of %s", kind, f, t.Name)
		}
		set[f] = true
	}
	return set, nil
}

func checkFields[F any](t *schema.Table, m map[string]F) error {
	for _, f := range slices.Sorted(maps.Keys(m)) {
		if _, ok := t.Column(f); !ok {
			return ConfigurationError("field function for %q: not a column of %s", f, t.Name)
		}
	}
	return nil
}

func inherit[F any](parent, own map[string]F) map[string]F {
	out := maps.Clone(parent)
	if out == nil {
		out = make(map[string]F, len(own))
	}
	maps.Copy(out, own)
	return out
}

// Descriptor is the compiled, immutable form of a resource. It is safe for
// concurrent use.
type Descriptor struct {
	name     string
	table    *schema.Table
	tableKey string
	pk       string
	methods  []string
	orderBy  []string
	verbs    Verbs

	changable map[string]bool
	readonly  map[string]bool
	invisible map[string]bool

	encoders   map[string]FieldFunc
	decoders   map[string]FieldFunc
	validators map[string]Validator
	generators map[string]Generator

	routes  []*Route
	pkRoute *Route
}

// Name is the model name.
func (d *Descriptor) Name() string { return d.name }

// Table is the backing table.
func (d *Descriptor) Table() *schema.Table { return d.table }

// TableKey is the catalog key of the backing table.
func (d *Descriptor) TableKey() string { return d.tableKey }

// PrimaryKey is the column used for point lookups, "" when there is none.
func (d *Descriptor) PrimaryKey() string { return d.pk }

// Routes returns the explicit routes in precedence order.
func (d *Descriptor) Routes() []*Route { return slices.Clone(d.routes) }

// PrimaryKeyRoute returns the derived point-lookup route, or nil.
func (d *Descriptor) PrimaryKeyRoute() *Route { return d.pkRoute }

// Methods returns the allowed standard methods.
func (d *Descriptor) Methods() []string { return slices.Clone(d.methods) }

func (d *Descriptor) Allows(method string) bool {
	return slices.Contains(d.methods, strings.ToUpper(method))
}

func (d *Descriptor) OrderBy() []string { return slices.Clone(d.orderBy) }

func (d *Descriptor) Verbs() Verbs { return d.verbs }

// Visible reports whether field is a column that may appear in output.
func (d *Descriptor) Visible(field string) bool {
	_, ok := d.table.Column(field)
	return ok && !d.invisible[field]
}

// Writable reports whether field is a changable, non read-only column.
func (d *Descriptor) Writable(field string) bool {
	return d.changable[field] && !d.readonly[field]
}

func (d *Descriptor) Encoder(field string) (FieldFunc, bool) {
	fn, ok := d.encoders[field]
	return fn, ok
}

func (d *Descriptor) Decoder(field string) (FieldFunc, bool) {
	fn, ok := d.decoders[field]
	return fn, ok
}
