package kvstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/concussionrehab/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/concussionrehab/pkg/errors"
)

func newPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(postgres.NewClientFromDB(db), "kv_store"), mock
}

func TestPostgresStore_Get(t *testing.T) {
	ctx := context.Background()
	store, mock := newPostgresStore(t)

	mock.ExpectQuery(`SELECT "value" FROM "kv_store"`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"totalReviews":3}`)))
	value, found, err := store.Get(ctx, "model_metrics_rule-based")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"totalReviews":3}`, string(value))

	mock.ExpectQuery(`SELECT "value" FROM "kv_store"`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	_, found, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetUpserts(t *testing.T) {
	ctx := context.Background()
	store, mock := newPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "kv_store" .+ ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Set(ctx, "few_shot_examples", []byte(`{"examples":[]}`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByPrefix(t *testing.T) {
	ctx := context.Background()
	store, mock := newPostgresStore(t)

	mock.ExpectQuery(`starts_with.+'training_data_'.+ORDER BY`).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("training_data_1", []byte(`{"n":1}`)).
			AddRow("training_data_2", []byte(`{"n":2}`)))

	entries, err := store.GetByPrefix(ctx, "training_data_")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "training_data_2", entries[1].Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateUsesAdvisoryLock(t *testing.T) {
	ctx := context.Background()
	store, mock := newPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("model_metrics_rule-based").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "value" FROM "kv_store"`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`1`)))
	mock.ExpectExec(`INSERT INTO "kv_store"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Update(ctx, "model_metrics_rule-based", func(current []byte, found bool) ([]byte, error) {
		assert.True(t, found)
		assert.Equal(t, "1", string(current))
		return []byte(`2`), nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateAbortRollsBack(t *testing.T) {
	ctx := context.Background()
	store, mock := newPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "value" FROM "kv_store"`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectRollback()

	notFound := apperrors.NewNotFoundError("no such record")
	err := store.Update(ctx, "ai_response_x", func(_ []byte, found bool) ([]byte, error) {
		assert.False(t, found)
		return nil, notFound
	})
	assert.True(t, errors.Is(err, notFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ErrorsAreStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	store, mock := newPostgresStore(t)

	mock.ExpectQuery(`SELECT "value"`).WillReturnError(errors.New("connection refused"))
	_, _, err := store.Get(ctx, "k")
	assert.True(t, apperrors.IsStoreUnavailable(err))

	mock.ExpectExec(`INSERT INTO`).WillReturnError(errors.New("connection refused"))
	err = store.Set(ctx, "k", []byte(`1`))
	assert.True(t, apperrors.IsStoreUnavailable(err))

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
	err = store.Update(ctx, "k", func([]byte, bool) ([]byte, error) { return []byte(`1`), nil })
	assert.True(t, apperrors.IsStoreUnavailable(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "kv_store"`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
