package ml

import (
	"errors"
	"math"
)

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// RSquared is the coefficient of determination of predicted against actual.
func RSquared(actual, predicted []float64) (float64, error) {
	if len(actual) == 0 {
		return 0, errors.New("actual is empty")
	}
	if len(actual) != len(predicted) {
		return 0, ErrShapeMismatch
	}
	mean := 0.0
	for _, v := range actual {
		mean += v
	}
	mean /= float64(len(actual))

	var ssRes, ssTot float64
	for i := range actual {
		diff := actual[i] - predicted[i]
		ssRes += diff * diff
		dev := actual[i] - mean
		ssTot += dev * dev
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return 1 - ssRes/ssTot, nil
}

func RMSE(actual, predicted []float64) (float64, error) {
	if len(actual) == 0 {
		return 0, errors.New("actual is empty")
	}
	if len(actual) != len(predicted) {
		return 0, ErrShapeMismatch
	}
	sum := 0.0
	for i := range actual {
		diff := actual[i] - predicted[i]
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(actual))), nil
}
