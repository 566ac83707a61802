package ml

import "math"

var syntheticCoef = struct {
	intercept, rainfall, fertilizer, temperature, nitrogen, phosphorus, potassium float64
}{2.5, 0.004, 0.03, 0.25, 0.05, -0.02, 0.07}

// syntheticRecords is an exactly linear 10-row dataset. Temperature labels
// sort to codes 0..9 in row order, so "28" encodes to 5.
func syntheticRecords() []TrainingRecord {
	rows := []struct {
		rain, fert float64
		temp       string
		code       float64
		n, p, k    float64
	}{
		{1100, 60, "22", 0, 70, 20, 15},
		{1250, 80, "24", 1, 85, 30, 25},
		{900, 55, "25", 2, 60, 18, 30},
		{1400, 90, "26", 3, 95, 40, 10},
		{1000, 70, "27", 4, 75, 22, 35},
		{1300, 65, "28", 5, 80, 35, 20},
		{950, 85, "30", 6, 65, 28, 40},
		{1150, 75, "31", 7, 90, 25, 12},
		{1350, 50, "33", 8, 55, 45, 28},
		{1050, 95, "35", 9, 100, 15, 18},
	}
	records := make([]TrainingRecord, len(rows))
	for i, r := range rows {
		records[i] = TrainingRecord{
			Rainfall:    r.rain,
			Fertilizer:  r.fert,
			Temperature: r.temp,
			Nitrogen:    r.n,
			Phosphorus:  r.p,
			Potassium:   r.k,
			Yield:       syntheticYield(r.rain, r.fert, r.code, r.n, r.p, r.k),
		}
	}
	return records
}

func syntheticYield(rain, fert, code, n, p, k float64) float64 {
	c := syntheticCoef
	return c.intercept + c.rainfall*rain + c.fertilizer*fert + c.temperature*code +
		c.nitrogen*n + c.phosphorus*p + c.potassium*k
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
