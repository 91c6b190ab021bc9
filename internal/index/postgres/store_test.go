package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
	"github.com/JakeFAU/realtime-job-indexer/internal/index"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

func record(t *testing.T) crawler.JobRecord {
	t.Helper()
	rec, err := crawler.NewJobRecord("jk1", crawler.Summary{Title: "Go Engineer", Company: "Acme"}).
		Enrich(crawler.Details{Description: "Write Go."})
	require.NoError(t, err)
	return rec
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "jobs; DROP TABLE x")
	require.Error(t, err)
	_, err = NewWithPool(nil, "jobs")
	require.Error(t, err)
}

func TestAddInsertsDocument(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO indexed_jobs").
		WithArgs("board", "jk1", "Go Engineer", pgxmock.AnyArg(), fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Add(context.Background(), "board", record(t)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddSurfacesConflicts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO indexed_jobs").
		WillReturnError(errors.New("duplicate key value violates unique constraint"))

	err := store.Add(context.Background(), "board", record(t))
	require.ErrorContains(t, err, "insert indexed job")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddIfAbsentUsesOnConflict(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("ON CONFLICT \\(catalog_key, reference\\) DO NOTHING").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("ON CONFLICT \\(catalog_key, reference\\) DO NOTHING").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	added, err := store.AddIfAbsent(context.Background(), "board", record(t))
	require.NoError(t, err)
	require.True(t, added)

	added, err = store.AddIfAbsent(context.Background(), "board", record(t))
	require.NoError(t, err)
	require.False(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFoundAndMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	body, err := json.Marshal(index.NewDocument("board", record(t), fixedNow))
	require.NoError(t, err)

	mock.ExpectQuery("SELECT document FROM indexed_jobs").
		WithArgs("board", "jk1").
		WillReturnRows(mock.NewRows([]string{"document"}).AddRow(body))
	mock.ExpectQuery("SELECT document FROM indexed_jobs").
		WithArgs("board", "missing").
		WillReturnRows(mock.NewRows([]string{"document"}))

	job, found, err := store.Get(context.Background(), "board", "jk1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Go Engineer", job.Title)
	require.Equal(t, fixedNow, *job.IndexedAt)
	require.Equal(t, "Write Go.", job.Raw["description"])

	_, found, err = store.Get(context.Background(), "board", "missing")
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransportError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT document").WillReturnError(errors.New("conn reset"))

	_, _, err := store.Get(context.Background(), "board", "jk1")
	require.ErrorContains(t, err, "conn reset")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS indexed_jobs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, store.Close())
}
