package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"lightning-lens/internal/domain"
)

// RegressorKind identifies the persisted regressor family.
const RegressorKind = "ridge"

// DefaultAlpha is the L2 penalty used when none is configured.
const DefaultAlpha = 1.0

// Regressor is an L2-regularized linear model over standardized inputs.
// Fitting is a closed-form solve of (XᵀX + αI)w = Xᵀ(y - ȳ); the intercept is not penalized.
type Regressor struct {
	alpha     float64
	intercept float64
	coef      []float64
	samples   int
}

// FitRegressor fits a ridge regressor. x must already be standardized.
func FitRegressor(x [][]float64, y []float64, alpha float64) (*Regressor, error) {
	n := len(x)
	if n == 0 {
		return nil, fmt.Errorf("fit regressor: %w", ErrInsufficientSamples)
	}
	if len(y) != n {
		return nil, fmt.Errorf("fit regressor: %d rows but %d targets", n, len(y))
	}
	if alpha <= 0 {
		alpha = DefaultAlpha
	}

	p := len(x[0])
	data := make([]float64, 0, n*p)
	for _, row := range x {
		if len(row) != p {
			return nil, &SchemaMismatchError{Expected: p, Got: len(row)}
		}
		data = append(data, row...)
	}
	X := mat.NewDense(n, p, data)

	var yMean float64
	for _, v := range y {
		yMean += v
	}
	yMean /= float64(n)

	centered := make([]float64, n)
	for i, v := range y {
		centered[i] = v - yMean
	}
	yc := mat.NewVecDense(n, centered)

	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	gram := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := xtx.At(i, j)
			if i == j {
				v += alpha
			}
			gram.SetSym(i, j, v)
		}
	}

	var xty mat.VecDense
	xty.MulVec(X.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, errors.New("fit regressor: gram matrix not positive definite")
	}

	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &xty); err != nil {
		return nil, fmt.Errorf("fit regressor: solve: %w", err)
	}

	coef := make([]float64, p)
	for j := range coef {
		coef[j] = w.AtVec(j)
	}

	return &Regressor{
		alpha:     alpha,
		intercept: yMean,
		coef:      coef,
		samples:   n,
	}, nil
}

// Width is the number of inputs the regressor expects.
func (r *Regressor) Width() int {
	return len(r.coef)
}

// PredictRow returns the raw linear prediction for one standardized row.
func (r *Regressor) PredictRow(row []float64) float64 {
	out := r.intercept
	for j, c := range r.coef {
		out += c * row[j]
	}
	return out
}

// Params exports the regressor for persistence.
func (r *Regressor) Params() domain.RegressorParams {
	return domain.RegressorParams{
		Kind:      RegressorKind,
		Alpha:     r.alpha,
		Intercept: r.intercept,
		Coef:      append([]float64(nil), r.coef...),
		Samples:   r.samples,
	}
}

// RegressorFromParams rebuilds a regressor from persisted parameters.
func RegressorFromParams(p domain.RegressorParams) (*Regressor, error) {
	if p.Kind != RegressorKind {
		return nil, fmt.Errorf("regressor params: unsupported kind %q", p.Kind)
	}
	if len(p.Coef) == 0 {
		return nil, errors.New("regressor params: no coefficients")
	}
	return &Regressor{
		alpha:     p.Alpha,
		intercept: p.Intercept,
		coef:      append([]float64(nil), p.Coef...),
		samples:   p.Samples,
	}, nil
}
