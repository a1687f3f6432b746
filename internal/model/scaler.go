package model

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"lightning-lens/internal/domain"
)

// Scaler standardizes features to zero mean and unit variance.
// Constant columns keep a scale of 1.
type Scaler struct {
	features []string
	mean     []float64
	scale    []float64
}

// FitScaler computes per-column population mean and standard deviation.
func FitScaler(features []string, x [][]float64) (*Scaler, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("fit scaler: %w", ErrInsufficientSamples)
	}
	width := len(features)
	col := make([]float64, len(x))

	s := &Scaler{
		features: append([]string(nil), features...),
		mean:     make([]float64, width),
		scale:    make([]float64, width),
	}

	for j := 0; j < width; j++ {
		for i, row := range x {
			if len(row) != width {
				return nil, &SchemaMismatchError{Expected: width, Got: len(row)}
			}
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.mean[j] = mean
		s.scale[j] = std
	}

	return s, nil
}

// Width is the number of input features the scaler was fitted on.
func (s *Scaler) Width() int {
	return len(s.mean)
}

// Transform returns a standardized copy of x.
func (s *Scaler) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != s.Width() {
			return nil, &SchemaMismatchError{Expected: s.Width(), Got: len(row)}
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.mean[j]) / s.scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// Params exports the scaler for persistence.
func (s *Scaler) Params() domain.ScalerParams {
	return domain.ScalerParams{
		Features: append([]string(nil), s.features...),
		Mean:     append([]float64(nil), s.mean...),
		Scale:    append([]float64(nil), s.scale...),
	}
}

// ScalerFromParams rebuilds a scaler from persisted parameters.
func ScalerFromParams(p domain.ScalerParams) (*Scaler, error) {
	if len(p.Mean) == 0 || len(p.Mean) != len(p.Scale) {
		return nil, fmt.Errorf("scaler params: mean/scale width %d/%d", len(p.Mean), len(p.Scale))
	}
	for j, sc := range p.Scale {
		if sc == 0 {
			return nil, fmt.Errorf("scaler params: zero scale at column %d", j)
		}
	}
	return &Scaler{
		features: append([]string(nil), p.Features...),
		mean:     append([]float64(nil), p.Mean...),
		scale:    append([]float64(nil), p.Scale...),
	}, nil
}
