package ml

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestTrainSyntheticScenario(t *testing.T) {
	artifact, err := Train(syntheticRecords(), TrainOptions{EncodeTemperature: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !artifact.TemperatureEncoded || artifact.Encoder == nil {
		t.Fatal("expected temperature encoder")
	}
	if artifact.Encoder.Len() != 10 {
		t.Fatalf("expected 10 classes, got %d", artifact.Encoder.Len())
	}

	pred, err := Predict(artifact, Input{
		Rainfall:    1200,
		Temperature: 28,
		Fertilizer:  75,
		Nitrogen:    80,
		Phosphorus:  24,
		Potassium:   20,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := syntheticYield(1200, 75, 5, 80, 24, 20)
	if !almostEqual(want, 15.72, 1e-12) {
		t.Fatalf("fixture drifted: %f", want)
	}
	if !almostEqual(pred.Yield, want, 1e-6) {
		t.Fatalf("expected %f, got %f", want, pred.Yield)
	}
	if pred.Fallback || pred.TemperatureCode != 5 {
		t.Fatalf("expected code 5 without fallback, got %+v", pred)
	}
	if !almostEqual(artifact.Metrics.R2, 1, 1e-9) {
		t.Fatalf("expected perfect fit, got r2=%f", artifact.Metrics.R2)
	}
	if artifact.Metrics.Rows != 10 {
		t.Fatalf("expected 10 rows, got %d", artifact.Metrics.Rows)
	}
}

func TestTrainRawTemperature(t *testing.T) {
	records := syntheticRecords()
	for i := range records {
		records[i].Temperature = "20.5"
	}
	records[0].Temperature = "19"

	artifact, err := Train(records, TrainOptions{EncodeTemperature: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.TemperatureEncoded || artifact.Encoder != nil {
		t.Fatal("expected raw temperature artifact")
	}
	pred, err := Predict(artifact, Input{Rainfall: 1000, Temperature: 59, Fertilizer: 60})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pred.TemperatureCode != 59 || pred.Fallback {
		t.Fatalf("expected raw pass-through, got %+v", pred)
	}
}

func TestTrainRawTemperatureRejectsText(t *testing.T) {
	records := syntheticRecords()
	records[3].Temperature = "hot"
	_, err := Train(records, TrainOptions{})
	var ie *InitializationError
	if !errors.As(err, &ie) || ie.Stage != StageSchema {
		t.Fatalf("expected schema initialization error, got %v", err)
	}
}

func TestTrainEmpty(t *testing.T) {
	_, err := Train(nil, TrainOptions{EncodeTemperature: true})
	var ie *InitializationError
	if !errors.As(err, &ie) || ie.Stage != StageFit {
		t.Fatalf("expected fit initialization error, got %v", err)
	}
	if !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestTrainNonFiniteTarget(t *testing.T) {
	records := syntheticRecords()
	records[2].Yield = math.NaN()
	_, err := Train(records, TrainOptions{EncodeTemperature: true})
	if !errors.Is(err, ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
}

func TestTrainUsesClock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	artifact, err := Train(syntheticRecords(), TrainOptions{
		EncodeTemperature: true,
		Now:               func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !artifact.TrainedAt.Equal(fixed) {
		t.Fatalf("expected %v, got %v", fixed, artifact.TrainedAt)
	}
}

func TestEvaluateHoldout(t *testing.T) {
	records := syntheticRecords()
	artifact, err := Train(records, TrainOptions{EncodeTemperature: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	metrics, err := Evaluate(artifact, records[:3])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metrics.Rows != 3 || !almostEqual(metrics.R2, 1, 1e-9) || metrics.RMSE > 1e-6 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}

	unseen := records[0]
	unseen.Temperature = "50"
	if _, err := Evaluate(artifact, []TrainingRecord{unseen}); err != nil {
		t.Fatalf("unseen label should fall back, got %v", err)
	}
	if _, err := Evaluate(nil, records); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
	if _, err := Evaluate(artifact, nil); !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}
