package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LinearRegression is ordinary least squares with an intercept. Fields are
// exported so the fitted model survives gob encoding.
type LinearRegression struct {
	Coefficients []float64
	Intercept    float64
}

func NewLinearRegression() *LinearRegression {
	return &LinearRegression{}
}

// Fit centers the design matrix and solves the least squares problem with a
// thin SVD, giving the minimum-norm solution when columns are collinear.
func (lr *LinearRegression) Fit(features [][]float64, targets []float64) error {
	if len(features) == 0 || len(targets) == 0 {
		return ErrEmptyDataset
	}
	if len(features) != len(targets) {
		return ErrShapeMismatch
	}
	rows := len(features)
	cols := len(features[0])
	if cols == 0 {
		return fmt.Errorf("%w: zero features", ErrShapeMismatch)
	}

	xMean := make([]float64, cols)
	yMean := 0.0
	for i, row := range features {
		if len(row) != cols {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrShapeMismatch, i, len(row), cols)
		}
		for j, v := range row {
			if !isFinite(v) {
				return fmt.Errorf("%w: feature %d of row %d", ErrNonFinite, j, i)
			}
			xMean[j] += v
		}
		if !isFinite(targets[i]) {
			return fmt.Errorf("%w: target of row %d", ErrNonFinite, i)
		}
		yMean += targets[i]
	}
	for j := range xMean {
		xMean[j] /= float64(rows)
	}
	yMean /= float64(rows)

	x := mat.NewDense(rows, cols, nil)
	y := mat.NewDense(rows, 1, nil)
	for i, row := range features {
		for j, v := range row {
			x.Set(i, j, v-xMean[j])
		}
		y.Set(i, 0, targets[i]-yMean)
	}

	coef := make([]float64, cols)
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return fmt.Errorf("svd factorization failed")
	}
	rcond := math.Nextafter(1, 2) - 1
	rcond *= float64(max(rows, cols))
	if rank := svd.Rank(rcond); rank > 0 {
		var solution mat.Dense
		svd.SolveTo(&solution, y, rank)
		for j := range coef {
			coef[j] = solution.At(j, 0)
		}
	}

	intercept := yMean
	for j := range coef {
		intercept -= coef[j] * xMean[j]
	}
	if !isFinite(intercept) {
		return fmt.Errorf("%w: intercept", ErrNonFinite)
	}

	lr.Coefficients = coef
	lr.Intercept = intercept
	return nil
}

func (lr *LinearRegression) Predict(features [][]float64) ([]float64, error) {
	if len(lr.Coefficients) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(features))
	for i, row := range features {
		if len(row) != len(lr.Coefficients) {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrFeatureMismatch, len(row), len(lr.Coefficients))
		}
		sum := lr.Intercept
		for j, v := range row {
			sum += lr.Coefficients[j] * v
		}
		out[i] = sum
	}
	return out, nil
}
