package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const LinearRegressionType = "linear_regression"

var machineEpsilon = math.Nextafter(1, 2) - 1

// LinearRegression is ordinary least squares with an intercept. The
// coefficients are the minimum-norm solution, so collinear inputs such as a
// full one-hot block do not make the fit fail.
type LinearRegression struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	Fitted    bool      `json:"fitted"`
}

func NewLinearRegression() *LinearRegression {
	return &LinearRegression{}
}

func (m *LinearRegression) Fit(features [][]float64, targets []float64) error {
	n := len(features)
	if n == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if n != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	p := len(features[0])
	if p == 0 {
		return errors.New("features have no columns")
	}

	xMean := make([]float64, p)
	var yMean float64
	for i, row := range features {
		if len(row) != p {
			return fmt.Errorf("row %d has %d columns, want %d", i, len(row), p)
		}
		for j, v := range row {
			if !isFinite(v) {
				return fmt.Errorf("non-finite feature at row %d column %d", i, j)
			}
			xMean[j] += v
		}
		if !isFinite(targets[i]) {
			return fmt.Errorf("non-finite target at row %d", i)
		}
		yMean += targets[i]
	}
	for j := range xMean {
		xMean[j] /= float64(n)
	}
	yMean /= float64(n)

	a := mat.NewDense(n, p, nil)
	b := mat.NewVecDense(n, nil)
	for i, row := range features {
		for j, v := range row {
			a.Set(i, j, v-xMean[j])
		}
		b.SetVec(i, targets[i]-yMean)
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return errors.New("least squares: SVD did not converge")
	}
	values := svd.Values(nil)
	rank := effectiveRank(values, n, p)
	if rank == 0 {
		return errors.New("least squares: features have zero variance")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	coef := make([]float64, p)
	for k := 0; k < rank; k++ {
		weight := mat.Dot(u.ColView(k), b) / values[k]
		for j := 0; j < p; j++ {
			coef[j] += weight * v.At(j, k)
		}
	}

	intercept := yMean
	for j, c := range coef {
		intercept -= c * xMean[j]
	}

	m.Coef = coef
	m.Intercept = intercept
	m.Fitted = true
	return nil
}

func (m *LinearRegression) Predict(features [][]float64) ([]float64, error) {
	if !m.Fitted {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(features))
	for i, row := range features {
		if len(row) != len(m.Coef) {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(row), len(m.Coef))
		}
		sum := m.Intercept
		for j, v := range row {
			sum += m.Coef[j] * v
		}
		out[i] = sum
	}
	return out, nil
}

func (m *LinearRegression) Validate() error {
	if !m.Fitted {
		return ErrNotFitted
	}
	if len(m.Coef) == 0 {
		return errors.New("model has no coefficients")
	}
	if !isFinite(m.Intercept) {
		return errors.New("model intercept is not finite")
	}
	for j, c := range m.Coef {
		if !isFinite(c) {
			return fmt.Errorf("model coefficient %d is not finite", j)
		}
	}
	return nil
}

func effectiveRank(values []float64, n, p int) int {
	if len(values) == 0 || values[0] == 0 {
		return 0
	}
	// singular values at or below tol count as zero
	tol := float64(max(n, p)) * values[0] * machineEpsilon
	rank := 0
	for _, s := range values {
		if s > tol {
			rank++
		}
	}
	return rank
}
