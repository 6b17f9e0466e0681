package sqlstore

import (
	"context"
	"testing"

	"github.com/edgeflare/restlet/pkg/query"
	"github.com/edgeflare/restlet/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureSQL = `
CREATE TABLE groups (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE users (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	age INTEGER,
	group_id INTEGER REFERENCES groups(id)
);
CREATE TABLE sessions (token TEXT PRIMARY KEY, user_id INTEGER NOT NULL REFERENCES users(id));
INSERT INTO groups (id, name) VALUES (1, 'admins'), (2, 'staff');
INSERT INTO users (id, name, age, group_id) VALUES
	(1, 'alice', 30, 1),
	(2, 'bob', 17, 2),
	(3, 'carol', 45, 1),
	(4, 'dave_1', 22, NULL);
INSERT INTO sessions (token, user_id) VALUES ('a', 1), ('b', 1), ('c', 2);
`

func openSQLite(t *testing.T) (*Store, *query.Compiler) {
	t.Helper()
	s, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.DB().Exec(fixtureSQL)
	require.NoError(t, err)

	tables, err := schema.LoadSQLite(context.Background(), s.DB())
	require.NoError(t, err)
	return s, &query.Compiler{Catalog: tables}
}

func find(t *testing.T, s *Store, c *query.Compiler, rawQuery string) ([]query.Record, int) {
	t.Helper()
	ctx := context.Background()

	ctrl, group, err := query.ParseQuery(rawQuery)
	require.NoError(t, err)
	where, joins, _, err := c.CompileGroup("users", group)
	require.NoError(t, err)
	orders, joins := c.CompileOrder("users", ctrl.OrderBy, joins)
	sel := &query.Select{Table: "users", Where: where, Joins: joins, OrderBy: orders, Offset: ctrl.Begin, Limit: ctrl.Limit}

	records, err := s.Find(ctx, sel)
	require.NoError(t, err)
	total, err := s.Count(ctx, sel)
	require.NoError(t, err)
	return records, total
}

func names(records []query.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r["name"].(string)
	}
	return out
}

func TestSQLiteFind(t *testing.T) {
	s, c := openSQLite(t)

	tests := []struct {
		query string
		want  []string
		total int
	}{
		{"__order_by=name", []string{"alice", "bob", "carol", "dave_1"}, 4},
		{"age__range=18,40&__order_by=-age", []string{"alice", "dave_1"}, 2},
		{"group.name=admins&__order_by=name", []string{"alice", "carol"}, 2},
		{"name|age=bob|45&__order_by=name", []string{"bob", "carol"}, 2},
		{"name__not=alice&age__gte=18&__order_by=name", []string{"carol", "dave_1"}, 2},
		{"id__in=2,4&__order_by=id", []string{"bob", "dave_1"}, 2},
		{"name__endswith=_1", []string{"dave_1"}, 1},
		{"sessions.token__in=a,b,c&__order_by=-name", []string{"bob", "alice"}, 2},
		// SQLite sorts NULL first: dave_1, alice, carol, bob
		{"__order_by=group.name,name&__limit=2&__begin=1", []string{"alice", "carol"}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			records, total := find(t, s, c, tt.query)
			assert.Equal(t, tt.want, names(records))
			assert.Equal(t, tt.total, total)
		})
	}
}

func TestSQLiteWrites(t *testing.T) {
	s, _ := openSQLite(t)
	ctx := context.Background()
	byID := func(id int64) query.Expr {
		return query.Compare{Field: query.FieldRef{Column: "id"}, Op: query.Eq, Value: id}
	}

	rec, err := s.Insert(ctx, "users", query.Record{"name": "erin", "age": 28})
	require.NoError(t, err)
	assert.Equal(t, "erin", rec["name"])
	assert.Equal(t, int64(5), rec["id"])

	updated, err := s.Update(ctx, "users", byID(5), query.Record{"age": 29})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, int64(29), updated[0]["age"])

	deleted, err := s.Delete(ctx, "users", byID(5))
	require.NoError(t, err)
	require.Len(t, deleted, 1)

	deleted, err = s.Delete(ctx, "users", byID(5))
	require.NoError(t, err)
	assert.Empty(t, deleted)
}
