package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	ctrl, group := Parse(nil)
	assert.Equal(t, Controls{Limit: DefaultLimit}, ctrl)
	assert.True(t, group.Empty())
}

func TestParseControls(t *testing.T) {
	ctrl, group, err := ParseQuery("__limit=10&__begin=20&__include_fields=name,%20fullname&__exclude_fields=age&__extend_fields=group&__order_by=-age,name&__format=YAML&__unknown=1")
	require.NoError(t, err)
	assert.True(t, group.Empty())

	assert.Equal(t, Controls{
		IncludeFields: []string{"name", "fullname"},
		ExcludeFields: []string{"age"},
		ExtendFields:  []string{"group"},
		OrderBy:       []string{"-age", "name"},
		Begin:         20,
		Limit:         10,
		Format:        "yaml",
	}, ctrl)
}

func TestParseInvalidPaging(t *testing.T) {
	tests := []struct {
		query string
		begin int
		limit int
	}{
		{"__limit=abc", 0, DefaultLimit},
		{"__limit=-5", 0, DefaultLimit},
		{"__limit=0", 0, DefaultLimit},
		{"__begin=-1", 0, DefaultLimit},
		{"__begin=x&__limit=7", 0, 7},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			ctrl, _, err := ParseQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.begin, ctrl.Begin)
			assert.Equal(t, tt.limit, ctrl.Limit)
		})
	}
}

func TestParseAndGroup(t *testing.T) {
	_, group, err := ParseQuery("b=2&a=1&tag=x&tag=y")
	require.NoError(t, err)

	assert.Equal(t, []Filter{
		{Key: "a", Value: "1"},
		{Key: "b", Value: "2"},
		{Key: "tag", Value: []string{"x", "y"}},
	}, group.And)
	assert.Empty(t, group.Or)
}

func TestParseOrGroup(t *testing.T) {
	_, group, err := ParseQuery("a|b=1|2&name=alice")
	require.NoError(t, err)

	assert.Equal(t, []Filter{{Key: "name", Value: "alice"}}, group.And)
	require.Len(t, group.Or, 1)
	assert.Equal(t, OrGroup{
		Name:    "a|b",
		Filters: []Filter{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}},
	}, group.Or[0])
}

func TestParseOrGroupTruncates(t *testing.T) {
	// the shorter side wins in both directions
	_, group := Parse(map[string][]string{
		"a|b":   {"1"},
		"c|d|e": {"1|2|3|4"},
	})

	require.Len(t, group.Or, 2)
	assert.Equal(t, []Filter{{Key: "a", Value: "1"}}, group.Or[0].Filters)
	assert.Equal(t, []Filter{
		{Key: "c", Value: "1"},
		{Key: "d", Value: "2"},
		{Key: "e", Value: "3"},
	}, group.Or[1].Filters)
}

func TestFilterPath(t *testing.T) {
	f := Filter{Key: "group.owner.name__startswith"}
	assert.Equal(t, []string{"group", "owner", "name__startswith"}, f.Path())
}
