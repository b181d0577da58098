package query_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samlev/loom"
	"github.com/samlev/loom/dialect"
	sqldialect "github.com/samlev/loom/dialect/sql"
	"github.com/samlev/loom/hook"
	"github.com/samlev/loom/query"
	"github.com/samlev/loom/schema"
)

type pet struct {
	loom.Entity
	ID      int
	Name    string
	OwnerID int `loom:"owner_id"`
}

func newMock(t *testing.T, drvDialect string) (*query.Builder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return query.New(sqldialect.OpenDB(drvDialect, db), schema.MustDescribe(&pet{})), mock
}

func TestAll(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, owner_id FROM pets WHERE owner_id = ?")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id"}).
			AddRow(1, "rex", 3).
			AddRow(2, "milo", 3))

	models, err := b.Where("owner_id", 3).All(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	first := models[0].(*pet)
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, "rex", first.Name)
	assert.Equal(t, 3, first.OwnerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllWhereIn(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, owner_id FROM pets WHERE owner_id IN (?, ?)")).
		WithArgs(3, 4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id"}))

	_, err := b.WhereIn("owner_id", 3, 4).All(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPlaceholders(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.Postgres)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, owner_id FROM pets WHERE name = $1 AND owner_id IN ($2, $3)")).
		WithArgs("rex", 1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id"}))

	_, err := b.Where("name", "rex").WhereIn("owner_id", 1, 2).All(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFirst(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, owner_id FROM pets ORDER BY name LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id"}).AddRow(1, "milo", 2))

	m, err := b.Order("name").First(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "milo", m.(*pet).Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFirstNotFound(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, owner_id FROM pets LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id"}))

	_, err := b.First(context.Background())
	assert.True(t, loom.IsNotFound(err))
}

func TestOnly(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, owner_id FROM pets LIMIT 2")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id"}).
			AddRow(1, "rex", 3).
			AddRow(2, "milo", 3))

	_, err := b.Only(context.Background())
	assert.True(t, loom.IsNotSingular(err))
}

func TestExist(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, owner_id FROM pets LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id"}).AddRow(1, "rex", 3))

	ok, err := b.Exist(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAfterQueryHooks(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, owner_id FROM pets")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id"}).AddRow(1, "rex", 3))

	var order []string
	b.AfterQuery(func(models []loom.Model) []loom.Model {
		order = append(order, "first")
		return models
	})
	b.AfterQuery(func(models []loom.Model) []loom.Model {
		order = append(order, "second")
		// The hook's return value replaces the result set.
		return models[:0]
	})

	models, err := b.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, models)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestCachedFetch(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)
	b.WithCache(loom.NewMemCache(), time.Minute)

	// A single expectation: the second execution must be served
	// from the cache.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, owner_id FROM pets")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id"}).AddRow(1, "rex", 3))

	models, err := b.All(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)

	models, err = b.All(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "rex", models[0].(*pet).Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOne(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pets (name, owner_id) VALUES (?, ?)")).
		WithArgs("rex", 3).
		WillReturnResult(sqlmock.NewResult(7, 1))

	p := &pet{Name: "rex", OwnerID: 3}
	require.NoError(t, b.CreateOne(context.Background(), p))
	assert.Equal(t, 7, p.ID, "auto-increment key written back")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOneHooks(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)
	var fired int
	b.Use(func(next hook.Mutator) hook.Mutator {
		return hook.MutatorFunc(func(ctx context.Context, m hook.Mutation) error {
			fired++
			return next.Mutate(ctx, m)
		})
	})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pets")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, b.CreateOne(context.Background(), &pet{Name: "rex"}))
	assert.Equal(t, 1, fired)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pets")).
		WillReturnResult(sqlmock.NewResult(2, 1))
	require.NoError(t, b.CreateOne(hook.SkipHooks(context.Background()), &pet{Name: "milo"}))
	assert.Equal(t, 1, fired, "hooks are bypassed under SkipHooks")
}

func TestUpdateOne(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE pets SET name = ?, owner_id = ? WHERE id = ?")).
		WithArgs("rex", 3, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, b.UpdateOne(context.Background(), &pet{ID: 7, Name: "rex", OwnerID: 3}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveOne(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)

	// Unassigned primary key inserts.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pets")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, b.SaveOne(context.Background(), &pet{Name: "rex"}))

	// Assigned primary key updates.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pets SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, b.SaveOne(context.Background(), &pet{ID: 1, Name: "rex"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOne(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM pets WHERE id = ?")).
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, b.DeleteOne(context.Background(), &pet{ID: 7}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMutationErrorWrapping(t *testing.T) {
	t.Parallel()
	b, mock := newMock(t, dialect.SQLite)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pets")).
		WillReturnError(assert.AnError)

	err := b.CreateOne(context.Background(), &pet{Name: "rex"})
	assert.True(t, loom.IsMutationError(err))
}
