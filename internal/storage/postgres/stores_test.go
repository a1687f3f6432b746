package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/storage"
)

func artifactPair(ts time.Time, version int64) domain.ArtifactPair {
	return domain.ArtifactPair{
		Stamp: ts.UTC().Format(domain.ArtifactTimestampLayout),
		Model: domain.ModelArtifact{
			Version:   version,
			Timestamp: ts,
			Regressor: domain.RegressorParams{
				Kind:      "ridge",
				Alpha:     1,
				Intercept: 0.41000000000000003,
				Coef:      []float64{0.1, -0.2, 1e-300, 0.3333333333333333, 0},
				Samples:   120,
			},
		},
		Scaler: domain.ScalerArtifact{
			Version:   version,
			Timestamp: ts,
			Scaler: domain.ScalerParams{
				Features: domain.ModelColumns,
				Mean:     []float64{12.5, 0.7, 11.5, 3, 0.41},
				Scale:    []float64{1, 0.1, 6.9, 2, 0.2},
			},
		},
	}
}

func TestArtifactStore_RoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewArtifactStore(pool)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	first := artifactPair(t0, 1)
	second := artifactPair(t0.Add(5*time.Minute), 2)

	_, err := store.Save(ctx, first)
	require.NoError(t, err)
	_, err = store.Save(ctx, second)
	require.NoError(t, err)

	got, err := store.Load(ctx, first.Stamp)
	require.NoError(t, err)
	assert.Equal(t, first.Model.Regressor, got.Model.Regressor)
	assert.Equal(t, first.Scaler.Scaler, got.Scaler.Scaler)

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Stamp, latest.Stamp)
	assert.Equal(t, int64(2), latest.Model.Version)

	stamps, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first.Stamp, second.Stamp}, stamps)

	_, err = store.Save(ctx, first)
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey), "expected ErrDuplicateKey, got %v", err)
}

func TestArtifactStore_IncompleteAndMissing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewArtifactStore(pool)
	ctx := context.Background()

	_, err := store.Latest(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = pool.Exec(ctx, `
		INSERT INTO model_artifacts (stamp, kind, version, created_at, payload)
		VALUES ('20250301_100000.000', 'model', 1, NOW(), '{}')
	`)
	require.NoError(t, err)

	_, err = store.Load(ctx, "20250301_100000.000")
	assert.ErrorIs(t, err, storage.ErrIncompletePair)

	_, err = store.Latest(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPerformanceStore_Recent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPerformanceStore(pool)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Insert(ctx, domain.PerformanceSample{
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Score:        0.5 + float64(i)/10,
			LearningRate: 0.1,
			ModelVersion: int64(i + 1),
		}))
	}

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(3), recent[0].ModelVersion)
	assert.Equal(t, int64(4), recent[1].ModelVersion)

	all, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	err = store.Insert(ctx, domain.PerformanceSample{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
