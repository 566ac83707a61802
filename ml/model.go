package ml

// Regressor is a fitted model mapping feature rows to a scalar target.
type Regressor interface {
	Fit(features [][]float64, targets []float64) error
	Predict(features [][]float64) ([]float64, error)
}

var _ Regressor = (*LinearRegression)(nil)
