package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/features"
)

func trainingRows(n int) []domain.FeatureVector {
	base := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	rows := make([]domain.FeatureVector, n)
	for i := range rows {
		ratio := float64(i%10) / 10
		rows[i] = domain.FeatureVector{
			ChannelID:       "alice_02abcdef",
			Timestamp:       base.Add(time.Duration(i) * time.Hour),
			BalanceVelocity: float64(i%7) * 1000,
			LiquidityStress: features.LiquidityStress(ratio),
			HourOfDay:       float64(i % 24),
			DayOfWeek:       float64((i / 24) % 7),
			BalanceRatio:    ratio,
			Capacity:        1_000_000,
		}
	}
	return rows
}

func TestStore_UnfittedPredictsDefault(t *testing.T) {
	s := NewStore(StoreOptions{})

	preds, err := s.Predict(trainingRows(3))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, preds)
	assert.False(t, s.Fitted())
	assert.Equal(t, int64(0), s.Version())
}

func TestStore_FitRequiresMinSamples(t *testing.T) {
	s := NewStore(StoreOptions{MinSamples: 20})
	rows := trainingRows(19)

	_, err := s.Fit(rows, features.BalanceRatioTargets(rows))
	if !errors.Is(err, ErrInsufficientSamples) {
		t.Fatalf("expected ErrInsufficientSamples, got %v", err)
	}
	assert.False(t, s.Fitted())
}

func TestStore_FitPublishesModel(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := NewStore(StoreOptions{MinSamples: 20, Now: func() time.Time { return now }})
	rows := trainingRows(40)

	m, err := s.Fit(rows, features.BalanceRatioTargets(rows))
	require.NoError(t, err)
	assert.True(t, s.Fitted())
	assert.Equal(t, int64(1), m.Version)
	assert.Equal(t, now, m.UpdatedAt)
	assert.Same(t, m, s.Current())

	preds, err := s.Predict(rows)
	require.NoError(t, err)
	for i, p := range preds {
		if p < 0 || p > 1 {
			t.Errorf("prediction %d out of range: %f", i, p)
		}
	}

	m2, err := s.Fit(rows, features.BalanceRatioTargets(rows))
	require.NoError(t, err)
	assert.Equal(t, int64(2), m2.Version)
}

func TestStore_PredictionsAreClamped(t *testing.T) {
	s := NewStore(StoreOptions{MinSamples: 20})
	rows := trainingRows(30)
	targets := make([]float64, len(rows))
	for i := range targets {
		targets[i] = float64(i) // far outside [0, 1]
	}

	_, err := s.Fit(rows, targets)
	require.NoError(t, err)

	preds, err := s.Predict(rows)
	require.NoError(t, err)
	for _, p := range preds {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestStore_PredictMatrixSchemaMismatch(t *testing.T) {
	s := NewStore(StoreOptions{MinSamples: 20})
	rows := trainingRows(25)
	_, err := s.Fit(rows, features.BalanceRatioTargets(rows))
	require.NoError(t, err)

	_, err = s.PredictMatrix([][]float64{{1, 2, 3}})
	require.Error(t, err)

	var mismatch *SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 5, mismatch.Expected)
	assert.Equal(t, 3, mismatch.Got)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
}

func TestStore_ExportUnfitted(t *testing.T) {
	s := NewStore(StoreOptions{})
	_, err := s.Export()
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestStore_ExportRestoreIdenticalPredictions(t *testing.T) {
	s := NewStore(StoreOptions{MinSamples: 20})
	rows := trainingRows(50)
	_, err := s.Fit(rows, features.BalanceRatioTargets(rows))
	require.NoError(t, err)

	pair, err := s.Export()
	require.NoError(t, err)
	assert.Equal(t, pair.Model.Timestamp.Format(domain.ArtifactTimestampLayout), pair.Stamp)

	restored := NewStore(StoreOptions{MinSamples: 20})
	m, err := restored.Restore(pair)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Version)

	want, err := s.Predict(rows)
	require.NoError(t, err)
	got, err := restored.Predict(rows)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Versions keep increasing after a restore.
	next, err := restored.Fit(rows, features.BalanceRatioTargets(rows))
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Version)
}

func TestStore_RestoreRejectsWidthMismatch(t *testing.T) {
	s := NewStore(StoreOptions{})
	pair := domain.ArtifactPair{
		Model: domain.ModelArtifact{Regressor: domain.RegressorParams{
			Kind: RegressorKind, Coef: []float64{1, 2},
		}},
		Scaler: domain.ScalerArtifact{Scaler: domain.ScalerParams{
			Mean: []float64{0, 0, 0}, Scale: []float64{1, 1, 1},
		}},
	}

	_, err := s.Restore(pair)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.False(t, s.Fitted())
}

func TestFitRegressor_RecoversLinearRelation(t *testing.T) {
	// Inputs are centered, as the store guarantees after scaling.
	x := make([][]float64, 0, 51)
	y := make([]float64, 0, 51)
	for i := -25; i <= 25; i++ {
		v := float64(i) / 25
		x = append(x, []float64{v})
		y = append(y, 0.5+0.2*v)
	}

	r, err := FitRegressor(x, y, 1e-9)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, r.PredictRow([]float64{0}), 1e-6)
	assert.InDelta(t, 0.7, r.PredictRow([]float64{1}), 1e-6)
}

func TestFitScaler_ConstantColumnKeepsUnitScale(t *testing.T) {
	s, err := FitScaler([]string{"a", "b"}, [][]float64{{1, 5}, {3, 5}})
	require.NoError(t, err)

	p := s.Params()
	assert.Equal(t, []float64{2, 5}, p.Mean)
	assert.Equal(t, []float64{1, 1}, p.Scale)

	out, err := s.Transform([][]float64{{3, 5}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}}, out)
}
