package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/storage"
)

func TestCalibrationStore_EmptyReturnsNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCalibrationStore(pool)

	_, err := store.Get(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCalibrationStore_SaveAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCalibrationStore(pool)

	updated := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cal := &domain.Calibration{
		Offset: 8421,
		Scale:  0.00153,
		Points: []domain.CalibrationPoint{
			{RawCode: 8421, MassKG: 0},
			{RawCode: 72830, MassKG: 1.0},
		},
		UpdatedAt: updated,
	}

	require.NoError(t, store.Save(ctx, cal))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8421), got.Offset)
	assert.InDelta(t, 0.00153, got.Scale, 1e-9)
	require.Len(t, got.Points, 2)
	assert.Equal(t, int64(72830), got.Points[1].RawCode)
	assert.InDelta(t, 1.0, got.Points[1].MassKG, 1e-9)
	assert.WithinDuration(t, updated, got.UpdatedAt, time.Millisecond)
}

func TestCalibrationStore_SaveReplaces(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCalibrationStore(pool)

	require.NoError(t, store.Save(ctx, &domain.Calibration{Offset: 100, Scale: 1.0}))
	require.NoError(t, store.Save(ctx, &domain.Calibration{Offset: 200, Scale: 2.0}))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.Offset)
	assert.InDelta(t, 2.0, got.Scale, 1e-9)

	// Replacement keeps the table single-row.
	var count int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM calibration`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCalibrationStore_SaveStampsZeroTime(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCalibrationStore(pool)

	require.NoError(t, store.Save(ctx, &domain.Calibration{Offset: 1, Scale: 0.5}))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.IsZero())
	assert.WithinDuration(t, time.Now().UTC(), got.UpdatedAt, time.Minute)
}

func TestCalibrationStore_NilInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCalibrationStore(pool)

	assert.ErrorIs(t, store.Save(ctx, nil), storage.ErrInvalidInput)
}
