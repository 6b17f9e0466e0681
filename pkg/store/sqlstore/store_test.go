package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/edgeflare/restlet/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, Postgres), mock
}

func TestStoreFindMock(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT t0.* FROM "users" AS t0 WHERE t0."name" = $1 LIMIT $2`).
		WithArgs("u1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("u1")))

	records, err := s.Find(context.Background(), &query.Select{
		Table: "users",
		Where: query.Compare{Field: query.FieldRef{Column: "name"}, Op: query.Eq, Value: "u1"},
		Limit: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, []query.Record{{"id": int64(1), "name": "u1"}}, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFindEmpty(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT t0.* FROM "users" AS t0`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	records, err := s.Find(context.Background(), &query.Select{Table: "users"})
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestStoreFindOrderColumns(t *testing.T) {
	s, mock := newMock(t)

	// a real column that merely looks like an order alias is kept
	mock.ExpectQuery(`SELECT t0.* FROM "users" AS t0 ORDER BY t0."name" ASC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "__origin", "__o0"}).
			AddRow(int64(1), "import", "x"))

	records, err := s.Find(context.Background(), &query.Select{
		Table:   "users",
		OrderBy: []query.Order{{Field: query.FieldRef{Column: "name"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []query.Record{{"id": int64(1), "__origin": "import", "__o0": "x"}}, records)

	sel := compileSelect(t, "sessions.token=6ba7b810-9dad-11d1-80b4-00c04fd430c8&__order_by=name")
	stmt, _, err := renderSelect(Postgres, sel)
	require.NoError(t, err)
	mock.ExpectQuery(stmt).
		WithArgs("6ba7b810-9dad-11d1-80b4-00c04fd430c8", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "__origin", "__o0"}).
			AddRow(int64(2), "api", "bob"))

	records, err = s.Find(context.Background(), sel)
	require.NoError(t, err)
	assert.Equal(t, []query.Record{{"id": int64(2), "__origin": "api"}}, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCountMock(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT COUNT(*) FROM "users" AS t0 WHERE t0."age" > $1`).
		WithArgs(int64(18)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.Count(context.Background(), &query.Select{
		Table: "users",
		Where: query.Compare{Field: query.FieldRef{Column: "age"}, Op: query.Gt, Value: int64(18)},
		Limit: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreErrorsMock(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`DELETE FROM "users" WHERE "id" = $1 RETURNING *`).
		WithArgs(int64(1)).
		WillReturnError(errors.New("connection reset"))

	_, err := s.Delete(context.Background(), "users",
		query.Compare{Field: query.FieldRef{Column: "id"}, Op: query.Eq, Value: int64(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	mock.ExpectQuery(`INSERT INTO "users" ("name") VALUES ($1) RETURNING *`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	_, err = s.Insert(context.Background(), "users", query.Record{"name": "u1"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
