// Package model owns the regression model and its input scaler.
package model

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/features"
)

// DefaultPrediction is returned for every row while the store is unfitted.
const DefaultPrediction = 0.5

// Model is an immutable fitted regressor/scaler pair.
type Model struct {
	Scaler    *Scaler
	Regressor *Regressor
	Version   int64
	UpdatedAt time.Time
}

// StoreOptions configures a Store.
type StoreOptions struct {
	MinSamples int     // Default: 20
	Alpha      float64 // Default: DefaultAlpha
	Now        func() time.Time
}

// Store holds exactly one live model. Fits build a new Model off to the side
// and publish it with an atomic pointer swap, so readers never observe a
// half-updated model.
//
// State machine: Unfitted --fit(≥ MinSamples)--> Fitted --fit--> Fitted.
type Store struct {
	current    atomic.Pointer[Model]
	fitMu      sync.Mutex
	version    int64
	minSamples int
	alpha      float64
	now        func() time.Time
}

// NewStore creates an unfitted store.
func NewStore(opts StoreOptions) *Store {
	minSamples := opts.MinSamples
	if minSamples <= 0 {
		minSamples = 20
	}
	alpha := opts.Alpha
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{minSamples: minSamples, alpha: alpha, now: now}
}

// Fitted reports whether a model has been published.
func (s *Store) Fitted() bool {
	return s.current.Load() != nil
}

// Current returns the live model, or nil while unfitted.
func (s *Store) Current() *Model {
	return s.current.Load()
}

// Version returns the live model version, 0 while unfitted.
func (s *Store) Version() int64 {
	if m := s.current.Load(); m != nil {
		return m.Version
	}
	return 0
}

// Fit performs a whole-model fit of scaler and regressor over rows against
// targets and swaps the result in. Fewer than MinSamples rows leaves the
// store untouched and returns ErrInsufficientSamples.
func (s *Store) Fit(rows []domain.FeatureVector, targets []float64) (*Model, error) {
	if len(rows) < s.minSamples {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientSamples, len(rows), s.minSamples)
	}
	if len(targets) != len(rows) {
		return nil, fmt.Errorf("fit: %d rows but %d targets", len(rows), len(targets))
	}

	x := features.Matrix(rows)

	scaler, err := FitScaler(domain.ModelColumns, x)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	scaled, err := scaler.Transform(x)
	if err != nil {
		return nil, fmt.Errorf("scale features: %w", err)
	}
	regressor, err := FitRegressor(scaled, targets, s.alpha)
	if err != nil {
		return nil, err
	}

	s.fitMu.Lock()
	defer s.fitMu.Unlock()

	s.version++
	m := &Model{
		Scaler:    scaler,
		Regressor: regressor,
		Version:   s.version,
		UpdatedAt: s.now(),
	}
	s.current.Store(m)
	return m, nil
}

// Predict returns one prediction in [0, 1] per row.
func (s *Store) Predict(rows []domain.FeatureVector) ([]float64, error) {
	return s.PredictMatrix(features.Matrix(rows))
}

// PredictMatrix predicts from raw model inputs. While unfitted it returns
// DefaultPrediction for every row; otherwise inputs are scaled with the
// stored scaler. A row width that disagrees with the scaler yields a
// SchemaMismatchError.
func (s *Store) PredictMatrix(x [][]float64) ([]float64, error) {
	return predictWith(s.current.Load(), x)
}

func predictWith(m *Model, x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	if m == nil {
		for i := range out {
			out[i] = DefaultPrediction
		}
		return out, nil
	}

	scaled, err := m.Scaler.Transform(x)
	if err != nil {
		return nil, err
	}
	for i, row := range scaled {
		out[i] = clamp01(m.Regressor.PredictRow(row))
	}
	return out, nil
}

// Export returns the live model as a persistable artifact pair.
func (s *Store) Export() (domain.ArtifactPair, error) {
	m := s.current.Load()
	if m == nil {
		return domain.ArtifactPair{}, ErrNotFitted
	}
	ts := m.UpdatedAt.UTC()
	return domain.ArtifactPair{
		Stamp: ts.Format(domain.ArtifactTimestampLayout),
		Model: domain.ModelArtifact{
			Version:   m.Version,
			Timestamp: ts,
			Regressor: m.Regressor.Params(),
		},
		Scaler: domain.ScalerArtifact{
			Version:   m.Version,
			Timestamp: ts,
			Scaler:    m.Scaler.Params(),
		},
	}, nil
}

// Restore publishes a previously exported pair as the live model.
func (s *Store) Restore(pair domain.ArtifactPair) (*Model, error) {
	scaler, err := ScalerFromParams(pair.Scaler.Scaler)
	if err != nil {
		return nil, err
	}
	regressor, err := RegressorFromParams(pair.Model.Regressor)
	if err != nil {
		return nil, err
	}
	if scaler.Width() != regressor.Width() {
		return nil, &SchemaMismatchError{Expected: scaler.Width(), Got: regressor.Width()}
	}

	s.fitMu.Lock()
	defer s.fitMu.Unlock()

	if pair.Model.Version > s.version {
		s.version = pair.Model.Version
	}
	m := &Model{
		Scaler:    scaler,
		Regressor: regressor,
		Version:   pair.Model.Version,
		UpdatedAt: pair.Model.Timestamp,
	}
	s.current.Store(m)
	return m, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultPrediction
	}
	return math.Min(1, math.Max(0, v))
}
