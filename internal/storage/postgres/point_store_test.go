package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CU-BIC/S3/internal/geo"
	"github.com/CU-BIC/S3/internal/sampler"
)

func acceptedPoint(t *testing.T) sampler.Coordinate {
	t.Helper()
	c := sampler.NewCoordinate(45, -75)
	require.NoError(t, c.SetInPolygon(true))
	require.NoError(t, c.SetInWater(false))
	require.NoError(t, c.SetSnapped(geo.LatLng{Lat: 45.0001, Lng: -75.0001}))
	require.NoError(t, c.SetPanorama(sampler.PanoramaRecord{PanoID: "pano-1"}))
	return c
}

func rejectedPoint(t *testing.T) sampler.Coordinate {
	t.Helper()
	c := sampler.NewCoordinate(45.1, -75.1)
	require.NoError(t, c.SetInPolygon(false))
	return c
}

func TestPersistBatchInsertsRowsInOneTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPointStoreWithPool(mock, "", "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	record := sampler.BatchRecord{
		RunID:       "run-1",
		Sequence:    3,
		Accepted:    []sampler.Coordinate{acceptedPoint(t)},
		Rejected:    []sampler.Coordinate{rejectedPoint(t)},
		Visited:     2,
		PersistedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sample_points").
		WithArgs("run-1", 3, 0, 45.0, -75.0, true, true, false, 45.0001, -75.0001, "pano-1", pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO sample_points").
		WithArgs("run-1", 3, 1, 45.1, -75.1, false, false, nil, nil, nil, nil, nil, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.PersistBatch(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistBatchRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPointStoreWithPool(mock, "points", "runs")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO points").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.PersistBatch(context.Background(), sampler.BatchRecord{
		RunID:    "run-1",
		Sequence: 1,
		Accepted: []sampler.Coordinate{acceptedPoint(t)},
	})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeUpsertsRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPointStoreWithPool(mock, "", "")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)
	summary := sampler.Summary{
		RunID:        "run-1",
		Status:       sampler.RunStatusFailed,
		Reason:       "credential ring exhausted",
		Processed:    []sampler.Coordinate{acceptedPoint(t)},
		TotalVisited: 4,
		Batches:      1,
		Rotations:    2,
		Rollbacks:    2,
		StartedAt:    started,
		FinishedAt:   finished,
	}

	mock.ExpectExec("INSERT INTO sample_runs").
		WithArgs("run-1", "failed", "credential ring exhausted", 1, 0, 4, 1, 2, 2, started, finished).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Finalize(context.Background(), summary))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPointStoreWithPool(mock, "", "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sample_points").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPointStoreWithPoolValidates(t *testing.T) {
	t.Parallel()

	_, err := NewPointStoreWithPool(nil, "", "")
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewPointStoreWithPool(mock, "points; DROP TABLE x", "")
	assert.Error(t, err)

	_, err = NewPointStore(context.Background(), Config{})
	assert.Error(t, err)
}
