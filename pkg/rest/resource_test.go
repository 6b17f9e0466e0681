package rest

import (
	"net/http"
	"strings"
	"testing"

	"github.com/edgeflare/restlet/internal/testutil"
	"github.com/edgeflare/restlet/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(*Context) (any, error) { return nil, nil }

func upper(v any) (any, error) { return strings.ToUpper(v.(string)), nil }

func TestAnchor(t *testing.T) {
	tests := map[string]string{
		"login":         "^/login$",
		"/login":        "^/login$",
		"^/login$":      "^/login$",
		`(\d+)/avatar`:  `^/(\d+)/avatar$`,
		"^/a/(?P<b>.+)": "^/a/(?P<b>.+)$",
	}
	for in, want := range tests {
		assert.Equal(t, want, anchor(in), in)
	}
}

func TestBuildDefaults(t *testing.T) {
	catalog := testutil.Catalog(t)
	d, err := Build(Config{Table: "users"}, catalog)
	require.NoError(t, err)

	assert.Equal(t, "users", d.Name())
	assert.Equal(t, "users", d.TableKey())
	assert.Equal(t, "id", d.PrimaryKey())
	assert.Equal(t, StandardMethods, d.Methods())
	assert.Empty(t, d.Routes())
	assert.IsType(t, DefaultVerbs{}, d.Verbs())
	for _, col := range d.Table().ColumnNames() {
		assert.True(t, d.Visible(col), col)
		assert.True(t, d.Writable(col), col)
	}
	assert.False(t, d.Visible("nickname"))
	assert.False(t, d.Writable("nickname"))
}

func TestBuildFieldSets(t *testing.T) {
	catalog := testutil.Catalog(t)
	d, err := Build(Config{
		Name:      "User",
		Table:     "users",
		Allowed:   []string{"get", "POST", "DELETE", "OPTIONS"},
		Denied:    []string{"delete"},
		Changable: []string{"name", "fullname", "password"},
		Readonly:  []string{"name"},
		Invisible: []string{"password"},
	}, catalog)
	require.NoError(t, err)

	assert.Equal(t, []string{"GET", "POST", "OPTIONS"}, d.Methods())
	assert.True(t, d.Allows("get"))
	assert.False(t, d.Allows(http.MethodDelete))

	assert.True(t, d.Writable("fullname"))
	assert.True(t, d.Writable("password"))
	assert.False(t, d.Writable("name"), "read-only")
	assert.False(t, d.Writable("age"), "not changable")
	assert.False(t, d.Visible("password"))
	assert.True(t, d.Visible("name"))
}

func TestBuildPrimaryKeyRoute(t *testing.T) {
	catalog := testutil.Catalog(t)
	tests := []struct {
		table   string
		pk      string
		pattern string
	}{
		{"users", "id", "^/([0-9]+)$"},
		{"tags", "slug", "^/([0-9A-Za-z_-]+)$"},
		{"sessions", "token", "^/([0-9A-Za-z_-]+)$"},
		{"events", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			d, err := Build(Config{Table: tt.table}, catalog)
			require.NoError(t, err)
			assert.Equal(t, tt.pk, d.PrimaryKey())
			if tt.pattern == "" {
				assert.Nil(t, d.PrimaryKeyRoute())
				return
			}
			require.NotNil(t, d.PrimaryKeyRoute())
			assert.Equal(t, tt.pattern, d.PrimaryKeyRoute().Pattern)
		})
	}
}

func TestBuildRoutes(t *testing.T) {
	catalog := testutil.Catalog(t)
	d, err := NewBuilder(Config{Table: "users"}).
		Route("/login", noop, "post", http.MethodPut).
		RouteWith(`(?P<id>\d+)/avatar`, noop, map[string]any{"size": 64}).
		Build(catalog)
	require.NoError(t, err)

	routes := d.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "^/login$", routes[0].Pattern)
	assert.Equal(t, []string{"POST", "PUT"}, routes[0].Methods)
	assert.True(t, routes[0].Allows("POST"))
	assert.False(t, routes[0].Allows("GET"))

	assert.Equal(t, `^/(?P<id>\d+)/avatar$`, routes[1].Pattern)
	assert.Empty(t, routes[1].Methods)
	assert.True(t, routes[1].Allows("PATCH"), "no methods accepts any")
	assert.Equal(t, 64, routes[1].Extra["size"])
}

func TestBuildErrors(t *testing.T) {
	catalog := testutil.Catalog(t)
	tests := []struct {
		name    string
		builder *Builder
		message string
	}{
		{"unknown table", NewBuilder(Config{Table: "nope"}), `unknown table "nope"`},
		{"no table", NewBuilder(Config{Name: "Thing"}), "has no table"},
		{"unknown method", NewBuilder(Config{Table: "users", Allowed: []string{"FETCH"}}), `unknown HTTP method "FETCH"`},
		{"unknown route method", NewBuilder(Config{Table: "users"}).Route("/x", noop, "BREW"), `unknown HTTP method "BREW"`},
		{"invalid pattern", NewBuilder(Config{Table: "users"}).Route("/(", noop), "missing closing )"},
		{"mixed groups", NewBuilder(Config{Table: "users"}).Route(`(?P<id>\d+)/(\w+)`, noop), "mixes named and positional groups"},
		{"nil handler", NewBuilder(Config{Table: "users"}).Route("/x", nil), "has no handler"},
		{"unknown invisible field", NewBuilder(Config{Table: "users", Invisible: []string{"secret"}}), `invisible field "secret"`},
		{"unknown readonly field", NewBuilder(Config{Table: "users", Readonly: []string{"secret"}}), `readonly field "secret"`},
		{"unknown encoder field", NewBuilder(Config{Table: "users"}).Encoder(upper, "secret"), `field function for "secret"`},
		{"unknown validator field", NewBuilder(Config{Table: "users"}).Validator(func(any, query.Record) error { return nil }, "secret"), `field function for "secret"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build(catalog)
			require.Error(t, err)
			e := AsError(err)
			assert.Equal(t, http.StatusInternalServerError, e.Status)
			assert.Equal(t, "configuration", e.Code)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestBuildParent(t *testing.T) {
	catalog := testutil.Catalog(t)
	lower := func(v any) (any, error) { return strings.ToLower(v.(string)), nil }

	parent, err := NewBuilder(Config{Name: "User", Table: "users", OrderBy: []string{"name"}}).
		Route("/login", noop, http.MethodPost).
		Encoder(upper, "name", "fullname").
		Build(catalog)
	require.NoError(t, err)

	child, err := NewBuilder(Config{Name: "Admin", Parent: parent}).
		Route("/promote", noop, http.MethodPost).
		Encoder(lower, "name").
		Build(catalog)
	require.NoError(t, err)

	assert.Equal(t, "users", child.TableKey())
	assert.Equal(t, []string{"name"}, child.OrderBy())

	routes := child.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "^/promote$", routes[0].Pattern, "own routes first")
	assert.Equal(t, "^/login$", routes[1].Pattern)

	enc, ok := child.Encoder("name")
	require.True(t, ok)
	v, _ := enc("MiXed")
	assert.Equal(t, "mixed", v, "own encoder overrides")

	enc, ok = child.Encoder("fullname")
	require.True(t, ok)
	v, _ = enc("MiXed")
	assert.Equal(t, "MIXED", v, "parent encoder inherited")

	// the parent is unchanged
	enc, _ = parent.Encoder("name")
	v, _ = enc("MiXed")
	assert.Equal(t, "MIXED", v)
	assert.Len(t, parent.Routes(), 1)
}

func TestBuilderDoesNotShareConfigMaps(t *testing.T) {
	catalog := testutil.Catalog(t)
	encoders := map[string]FieldFunc{"name": upper}
	b := NewBuilder(Config{Table: "users", Encoders: encoders})
	b.Encoder(upper, "fullname")
	_, err := b.Build(catalog)
	require.NoError(t, err)
	assert.Len(t, encoders, 1)
}
