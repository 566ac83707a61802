package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ecoharvest/db"
	"ecoharvest/forecast"
	"ecoharvest/ml"
	"ecoharvest/monitoring"
)

type fakeModels struct {
	status   forecast.Status
	artifact *ml.Artifact
	err      error
}

func (f *fakeModels) Snapshot() (forecast.Status, *ml.Artifact, error) {
	return f.status, f.artifact, f.err
}

type fakePredictor struct {
	result forecast.Result
	err    error
	block  chan struct{}
	got    ml.Input
}

func (f *fakePredictor) Predict(ctx context.Context, in ml.Input) (forecast.Result, error) {
	if f.block != nil {
		<-f.block
	}
	f.got = in
	return f.result, f.err
}

type fakeHistory struct {
	records []db.PredictionRecord
	logs    []db.TrainingLog
	limit   int
}

func (f *fakeHistory) RecentPredictions(limit int) ([]db.PredictionRecord, error) {
	f.limit = limit
	return f.records, nil
}

func (f *fakeHistory) LoadTrainingLog() ([]db.TrainingLog, error) {
	return f.logs, nil
}

func newTestMux(api *API) *http.ServeMux {
	mux := http.NewServeMux()
	api.Register(mux)
	return mux
}

func TestHealthHandler(t *testing.T) {
	mux := newTestMux(NewAPI(&fakeModels{status: forecast.StatusReady}, &fakePredictor{}, nil, nil, nil))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	expected := `{"model":"ready","status":"ok"}`
	if strings.TrimSpace(rr.Body.String()) != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestHandlePredict(t *testing.T) {
	predictor := &fakePredictor{result: forecast.Result{
		Prediction: ml.Prediction{Yield: 15.72, TemperatureCode: 5},
		Celebrate:  true,
	}}
	mux := newTestMux(NewAPI(&fakeModels{}, predictor, nil, nil, nil))

	body := `{"rainfall":1200,"temperature":28,"fertilizer":75,"nitrogen":80,"phosphorus":24,"potassium":20}`
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload["yield"].(float64) != 15.72 || payload["celebrate"] != true || payload["display"] != "15.72 Q/acre" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	want := ml.Input{Rainfall: 1200, Temperature: 28, Fertilizer: 75, Nitrogen: 80, Phosphorus: 24, Potassium: 20}
	if predictor.got != want {
		t.Fatalf("unexpected input: %+v", predictor.got)
	}
}

func TestHandlePredictErrors(t *testing.T) {
	valid := `{"rainfall":1200,"temperature":28,"fertilizer":75,"nitrogen":80,"phosphorus":24,"potassium":20}`
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		stage  ml.Stage
	}{
		{"malformed", `{"rainfall":`, nil, http.StatusBadRequest, ""},
		{"unknown field", `{"humidity":3}`, nil, http.StatusBadRequest, ""},
		{"fractional temperature", `{"temperature":28.5}`, nil, http.StatusBadRequest, ""},
		{"validation", valid, forecast.ErrInvalidInput, http.StatusBadRequest, ""},
		{"initialization", valid, &ml.InitializationError{Stage: ml.StageAcquire, Err: errors.New("offline")}, http.StatusServiceUnavailable, ml.StageAcquire},
		{"calculation", valid, &ml.CalculationError{Stage: ml.StageInvoke, Err: ml.ErrNonFinite}, http.StatusUnprocessableEntity, ml.StageInvoke},
		{"unexpected", valid, errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(NewAPI(&fakeModels{}, &fakePredictor{err: tt.err}, nil, nil, nil))
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(tt.body)))

			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			var resp errorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if resp.Error == "" || resp.Stage != tt.stage {
				t.Fatalf("unexpected error body: %+v", resp)
			}
		})
	}
}

func TestHandlePredictTimesOutWhileInitializing(t *testing.T) {
	predictor := &fakePredictor{block: make(chan struct{})}
	defer close(predictor.block)
	handler := TimeoutMiddleware(20 * time.Millisecond)(newTestMux(NewAPI(&fakeModels{}, predictor, nil, nil, nil)))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"temperature":28}`)))
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rr.Code)
	}
}

func TestHandleModel(t *testing.T) {
	artifact := &ml.Artifact{
		Version:            ml.ArtifactVersion,
		Model:              &ml.LinearRegression{Coefficients: []float64{1, 2, 3, 4, 5, 6}, Intercept: 0.5},
		Encoder:            &ml.CategoricalEncoder{Classes: []string{"22", "28"}},
		TemperatureEncoded: true,
		Features:           ml.FeatureNames(),
		Metrics:            ml.TrainingMetrics{Rows: 10, R2: 1},
		TrainedAt:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	history := &fakeHistory{logs: []db.TrainingLog{{ModelName: "linear_regression", Rows: 10}}}
	mux := newTestMux(NewAPI(&fakeModels{status: forecast.StatusReady, artifact: artifact}, &fakePredictor{}, history, nil, nil))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/model", nil))
	var resp modelResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Status != forecast.StatusReady || len(resp.Coefficients) != 6 || len(resp.Classes) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Metrics == nil || resp.Metrics.Rows != 10 || len(resp.Trainings) != 1 {
		t.Fatalf("unexpected metrics: %+v", resp)
	}

	failed := &fakeModels{status: forecast.StatusFailed, err: ml.InitError(ml.StageSchema, errors.New("missing column"))}
	mux = newTestMux(NewAPI(failed, &fakePredictor{}, nil, nil, nil))
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/model", nil))
	resp = modelResponse{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Status != forecast.StatusFailed || resp.Stage != ml.StageSchema || resp.Error == "" {
		t.Fatalf("unexpected failure response: %+v", resp)
	}
}

func TestHandleModelWithoutFittedModel(t *testing.T) {
	artifact := &ml.Artifact{Version: ml.ArtifactVersion, Features: ml.FeatureNames()}
	mux := newTestMux(NewAPI(&fakeModels{status: forecast.StatusReady, artifact: artifact}, &fakePredictor{}, nil, nil, nil))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/model", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp modelResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Coefficients) != 0 || len(resp.Features) != len(ml.FeatureNames()) {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandlePredictions(t *testing.T) {
	history := &fakeHistory{records: []db.PredictionRecord{{Temperature: 28, Yield: 15.72}}}
	mux := newTestMux(NewAPI(&fakeModels{}, &fakePredictor{}, history, nil, nil))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/predictions?limit=5", nil))
	if rr.Code != http.StatusOK || history.limit != 5 {
		t.Fatalf("expected 200 with limit 5, got %d and %d", rr.Code, history.limit)
	}
	var payload struct {
		Count int                   `json:"count"`
		Data  []db.PredictionRecord `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.Count != 1 || payload.Data[0].Yield != 15.72 {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/predictions?limit=zero", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	mux = newTestMux(NewAPI(&fakeModels{}, &fakePredictor{}, nil, nil, nil))
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/predictions", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleMetrics(t *testing.T) {
	metrics := monitoring.NewMetricsCollector()
	metrics.IncrCounter("predictions_total", nil)
	api := NewAPI(&fakeModels{status: forecast.StatusReady}, &fakePredictor{}, nil, nil, nil).WithMetrics(metrics)

	rr := httptest.NewRecorder()
	newTestMux(api).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "ecoharvest_model_status 2\n") || !strings.Contains(body, "ecoharvest_predictions_total 1\n") {
		t.Fatalf("unexpected metrics body:\n%s", body)
	}
}
