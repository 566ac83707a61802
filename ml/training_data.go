package ml

import (
	"fmt"
	"strconv"
	"time"
)

// TrainingRecord is one historical observation. Temperature keeps its raw
// label form; it only becomes numeric through the encoder or, when encoding
// is disabled, by parsing.
type TrainingRecord struct {
	Rainfall    float64
	Fertilizer  float64
	Temperature string
	Nitrogen    float64
	Phosphorus  float64
	Potassium   float64
	Yield       float64
}

type TrainOptions struct {
	// EncodeTemperature selects categorical encoding of the temperature
	// label. When false the label is parsed as a number and passed through.
	EncodeTemperature bool
	Now               func() time.Time
}

type TrainingMetrics struct {
	Rows int     `json:"rows"`
	R2   float64 `json:"r2"`
	RMSE float64 `json:"rmse"`
}

// Train fits the encoder and the regression and returns an unsaved artifact.
func Train(records []TrainingRecord, opts TrainOptions) (*Artifact, error) {
	if len(records) == 0 {
		return nil, InitError(StageFit, ErrEmptyDataset)
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	var encoder *CategoricalEncoder
	temps := make([]float64, len(records))
	if opts.EncodeTemperature {
		labels := make([]string, len(records))
		for i, r := range records {
			labels[i] = r.Temperature
		}
		var err error
		encoder, err = FitEncoder(labels)
		if err != nil {
			return nil, InitError(StageFit, err)
		}
		codes, err := encoder.TransformAll(labels)
		if err != nil {
			return nil, InitError(StageFit, err)
		}
		for i, code := range codes {
			temps[i] = float64(code)
		}
	} else {
		for i, r := range records {
			v, err := strconv.ParseFloat(r.Temperature, 64)
			if err != nil {
				return nil, InitError(StageSchema, fmt.Errorf("temperature %q in row %d is not numeric", r.Temperature, i))
			}
			temps[i] = v
		}
	}

	features := make([][]float64, len(records))
	targets := make([]float64, len(records))
	for i, r := range records {
		features[i] = FeatureVector(YieldFeatures{
			Rainfall:    r.Rainfall,
			Fertilizer:  r.Fertilizer,
			Temperature: temps[i],
			Nitrogen:    r.Nitrogen,
			Phosphorus:  r.Phosphorus,
			Potassium:   r.Potassium,
		})
		targets[i] = r.Yield
	}

	model := NewLinearRegression()
	if err := model.Fit(features, targets); err != nil {
		return nil, InitError(StageFit, err)
	}

	predicted, err := model.Predict(features)
	if err != nil {
		return nil, InitError(StageFit, err)
	}
	r2, err := RSquared(targets, predicted)
	if err != nil {
		return nil, InitError(StageFit, err)
	}
	rmse, err := RMSE(targets, predicted)
	if err != nil {
		return nil, InitError(StageFit, err)
	}

	return &Artifact{
		Version:            ArtifactVersion,
		Model:              model,
		Encoder:            encoder,
		TemperatureEncoded: opts.EncodeTemperature,
		Features:           FeatureNames(),
		Metrics: TrainingMetrics{
			Rows: len(records),
			R2:   r2,
			RMSE: rmse,
		},
		TrainedAt: now().UTC(),
	}, nil
}

// Evaluate scores a fitted artifact on held-out records. Labels the encoder
// never saw take the fallback code, as at inference time.
func Evaluate(artifact *Artifact, records []TrainingRecord) (TrainingMetrics, error) {
	if artifact == nil || artifact.Model == nil {
		return TrainingMetrics{}, ErrNotFitted
	}
	if len(records) == 0 {
		return TrainingMetrics{}, ErrEmptyDataset
	}
	features := make([][]float64, len(records))
	targets := make([]float64, len(records))
	for i, r := range records {
		var temp float64
		if artifact.TemperatureEncoded {
			if artifact.Encoder == nil {
				return TrainingMetrics{}, fmt.Errorf("artifact is marked encoded but has no encoder")
			}
			temp = float64(artifact.Encoder.Lookup(r.Temperature).Code)
		} else {
			v, err := strconv.ParseFloat(r.Temperature, 64)
			if err != nil {
				return TrainingMetrics{}, fmt.Errorf("temperature %q in row %d is not numeric", r.Temperature, i)
			}
			temp = v
		}
		features[i] = FeatureVector(YieldFeatures{
			Rainfall:    r.Rainfall,
			Fertilizer:  r.Fertilizer,
			Temperature: temp,
			Nitrogen:    r.Nitrogen,
			Phosphorus:  r.Phosphorus,
			Potassium:   r.Potassium,
		})
		targets[i] = r.Yield
	}
	predicted, err := artifact.Model.Predict(features)
	if err != nil {
		return TrainingMetrics{}, err
	}
	r2, err := RSquared(targets, predicted)
	if err != nil {
		return TrainingMetrics{}, err
	}
	rmse, err := RMSE(targets, predicted)
	if err != nil {
		return TrainingMetrics{}, err
	}
	return TrainingMetrics{Rows: len(records), R2: r2, RMSE: rmse}, nil
}
