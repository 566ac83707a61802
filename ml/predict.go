package ml

import (
	"errors"
	"fmt"
	"strconv"
)

// Input is one user submission in raw units.
type Input struct {
	Rainfall    float64 `json:"rainfall"`
	Temperature int     `json:"temperature"`
	Fertilizer  float64 `json:"fertilizer"`
	Nitrogen    float64 `json:"nitrogen"`
	Phosphorus  float64 `json:"phosphorus"`
	Potassium   float64 `json:"potassium"`
}

type Prediction struct {
	Yield           float64 `json:"yield"`
	TemperatureCode float64 `json:"temperature_code"`
	Fallback        bool    `json:"fallback"`
}

// EncodeTemperature maps a raw temperature into the space the model was
// fitted in. The bool reports the unseen-label fallback.
func EncodeTemperature(encoder *CategoricalEncoder, encoded bool, temperature int) (float64, bool, error) {
	if !encoded {
		return float64(temperature), false, nil
	}
	if encoder == nil {
		return 0, false, errors.New("artifact declares temperature encoding but carries no encoder")
	}
	lookup := encoder.Lookup(strconv.Itoa(temperature))
	return float64(lookup.Code), lookup.Fallback, nil
}

// PredictWith assembles the feature vector in training order and invokes the
// model on a single-row batch.
func PredictWith(model Regressor, encoder *CategoricalEncoder, encoded bool, in Input) (pred Prediction, err error) {
	if model == nil {
		return Prediction{}, &CalculationError{Stage: StageAssemble, Err: ErrNotFitted}
	}
	code, fallback, err := EncodeTemperature(encoder, encoded, in.Temperature)
	if err != nil {
		return Prediction{}, &CalculationError{Stage: StageAssemble, Err: err}
	}
	row := FeatureVector(YieldFeatures{
		Rainfall:    in.Rainfall,
		Fertilizer:  in.Fertilizer,
		Temperature: code,
		Nitrogen:    in.Nitrogen,
		Phosphorus:  in.Phosphorus,
		Potassium:   in.Potassium,
	})
	for i, v := range row {
		if !isFinite(v) {
			return Prediction{}, &CalculationError{Stage: StageAssemble, Err: fmt.Errorf("%w: %s", ErrNonFinite, FeatureNames()[i])}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = &CalculationError{Stage: StageInvoke, Err: fmt.Errorf("model panicked: %v", r)}
		}
	}()
	out, err := model.Predict([][]float64{row})
	if err != nil {
		return Prediction{}, &CalculationError{Stage: StageInvoke, Err: err}
	}
	if len(out) != 1 {
		return Prediction{}, &CalculationError{Stage: StageInvoke, Err: fmt.Errorf("expected 1 prediction, got %d", len(out))}
	}
	if !isFinite(out[0]) {
		return Prediction{}, &CalculationError{Stage: StageInvoke, Err: ErrNonFinite}
	}
	return Prediction{Yield: out[0], TemperatureCode: code, Fallback: fallback}, nil
}

func Predict(artifact *Artifact, in Input) (Prediction, error) {
	if artifact == nil || artifact.Model == nil {
		return Prediction{}, &CalculationError{Stage: StageAssemble, Err: ErrNotFitted}
	}
	return PredictWith(artifact.Model, artifact.Encoder, artifact.TemperatureEncoded, in)
}
