package rest

import (
	"testing"

	"github.com/edgeflare/restlet/internal/testutil"
	"github.com/edgeflare/restlet/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prefix(p string) FieldFunc {
	return func(v any) (any, error) { return p + v.(string), nil }
}

func TestRegistry(t *testing.T) {
	catalog := testutil.Catalog(t)
	people, err := Build(Config{Name: "Person", Table: "users"}, catalog)
	require.NoError(t, err)
	users, err := NewBuilder(Config{Name: "User", Table: "users"}).Encoder(prefix("u:"), "name").Build(catalog)
	require.NoError(t, err)
	groups, err := NewBuilder(Config{Name: "Group", Table: "groups"}).Encoder(prefix("g:"), "name").Build(catalog)
	require.NoError(t, err)

	r := NewRegistry(catalog)
	require.NoError(t, r.Register(people))
	require.NoError(t, r.Register(users))
	require.NoError(t, r.Register(groups))
	require.NoError(t, r.Register(users), "registering twice is a no-op")
	assert.Error(t, r.Register(nil))

	assert.Equal(t, []*Descriptor{people, users, groups}, r.Descriptors())

	d, ok := r.Lookup("users")
	require.True(t, ok)
	assert.Same(t, people, d, "the first resource of a table wins")
	_, ok = r.Lookup("tags")
	assert.False(t, ok)

	_, ok = r.Encoder("users", "name")
	assert.False(t, ok, "Person has no encoder for name")
	enc, ok := r.Encoder("groups", "name")
	require.True(t, ok)
	v, err := enc("admins")
	require.NoError(t, err)
	assert.Equal(t, "g:admins", v)
}

func TestRegistryCompiler(t *testing.T) {
	catalog := testutil.Catalog(t)
	people, err := Build(Config{Name: "Person", Table: "users"}, catalog)
	require.NoError(t, err)
	users, err := NewBuilder(Config{Name: "User", Table: "users"}).Encoder(prefix("u:"), "name").Build(catalog)
	require.NoError(t, err)
	groups, err := NewBuilder(Config{Name: "Group", Table: "groups"}).Encoder(prefix("g:"), "name").Build(catalog)
	require.NoError(t, err)

	r := NewRegistry(catalog)
	for _, d := range []*Descriptor{people, users, groups} {
		require.NoError(t, r.Register(d))
	}
	c := r.Compiler(users)

	tests := []struct {
		name  string
		key   []string
		value string
		want  query.Expr
		join  int
	}{
		{
			name:  "own encoder on the root table",
			key:   []string{"name"},
			value: "alice",
			want:  query.Compare{Field: query.FieldRef{Column: "name"}, Op: query.Eq, Value: "u:alice"},
		},
		{
			name:  "related resource encoder through a join",
			key:   []string{"group", "name"},
			value: "admins",
			want:  query.Compare{Field: query.FieldRef{Path: []string{"group"}, Column: "name"}, Op: query.Eq, Value: "g:admins"},
			join:  1,
		},
		{
			name:  "related column without encoder is coerced",
			key:   []string{"group", "id"},
			value: "7",
			want:  query.Compare{Field: query.FieldRef{Path: []string{"group"}, Column: "id"}, Op: query.Eq, Value: int64(7)},
			join:  1,
		},
		{
			name:  "root encoder wherever its table is reached",
			key:   []string{"group", "owner", "name"},
			value: "alice",
			want:  query.Compare{Field: query.FieldRef{Path: []string{"group", "owner"}, Column: "name"}, Op: query.Eq, Value: "u:alice"},
			join:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, joins, err := c.Compile("users", tt.key, tt.value, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e)
			assert.Len(t, joins, tt.join)
		})
	}
}
