package ml

// YieldFeatures is one row of model input after temperature encoding.
type YieldFeatures struct {
	Rainfall    float64
	Fertilizer  float64
	Temperature float64
	Nitrogen    float64
	Phosphorus  float64
	Potassium   float64
}

// FeatureVector returns the features in training order. The order must never
// change once an artifact has been persisted.
func FeatureVector(f YieldFeatures) []float64 {
	return []float64{
		f.Rainfall,
		f.Fertilizer,
		f.Temperature,
		f.Nitrogen,
		f.Phosphorus,
		f.Potassium,
	}
}

func FeatureNames() []string {
	return []string{
		"rainfall",
		"fertilizer",
		"temperature",
		"nitrogen",
		"phosphorus",
		"potassium",
	}
}
