package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ecoharvest/db"
	"ecoharvest/forecast"
	"ecoharvest/logging"
	"ecoharvest/ml"
	"ecoharvest/monitoring"
)

const defaultHistoryLimit = 50

// ModelStatus 模型状态查询，不会触发初始化
type ModelStatus interface {
	Snapshot() (forecast.Status, *ml.Artifact, error)
}

// Predictor 预测服务
type Predictor interface {
	Predict(ctx context.Context, in ml.Input) (forecast.Result, error)
}

// History 训练与预测历史
type History interface {
	RecentPredictions(limit int) ([]db.PredictionRecord, error)
	LoadTrainingLog() ([]db.TrainingLog, error)
}

// API 汇总所有处理器依赖
type API struct {
	models    ModelStatus
	predictor Predictor
	history   History
	hub       *StatusHub
	metrics   *monitoring.MetricsCollector
	logger    *logging.Logger
}

func NewAPI(models ModelStatus, predictor Predictor, history History, hub *StatusHub, logger *logging.Logger) *API {
	if logger == nil {
		logger = logging.Nop()
	}
	return &API{models: models, predictor: predictor, history: history, hub: hub, logger: logger}
}

// WithMetrics 启用 /api/metrics
func (a *API) WithMetrics(metrics *monitoring.MetricsCollector) *API {
	a.metrics = metrics
	return a
}

// Register 注册路由
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/model", a.handleModel)
	mux.HandleFunc("POST /api/predict", a.handlePredict)
	mux.HandleFunc("GET /api/predictions", a.handlePredictions)
	if a.hub != nil {
		mux.HandleFunc("GET /api/ws/status", a.hub.HandleWebSocket)
	}
	if a.metrics != nil {
		mux.HandleFunc("GET /api/metrics", a.handleMetrics)
	}
}

type errorResponse struct {
	Error string   `json:"error"`
	Stage ml.Stage `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, stage ml.Stage) {
	writeJSON(w, status, errorResponse{Error: message, Stage: stage})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, _, _ := a.models.Snapshot()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "model": string(status)})
}

type modelResponse struct {
	Status             forecast.Status     `json:"status"`
	Stage              ml.Stage            `json:"stage,omitempty"`
	Error              string              `json:"error,omitempty"`
	Features           []string            `json:"features,omitempty"`
	Coefficients       []float64           `json:"coefficients,omitempty"`
	Intercept          float64             `json:"intercept"`
	Classes            []string            `json:"classes,omitempty"`
	TemperatureEncoded bool                `json:"temperature_encoded"`
	Metrics            *ml.TrainingMetrics `json:"metrics,omitempty"`
	TrainedAt          *time.Time          `json:"trained_at,omitempty"`
	Trainings          []db.TrainingLog    `json:"trainings,omitempty"`
}

func (a *API) handleModel(w http.ResponseWriter, r *http.Request) {
	status, artifact, err := a.models.Snapshot()
	resp := modelResponse{Status: status}
	if err != nil {
		resp.Error = err.Error()
		var ie *ml.InitializationError
		if errors.As(err, &ie) {
			resp.Stage = ie.Stage
		}
	}
	if artifact != nil {
		resp.Features = artifact.Features
		if artifact.Model != nil {
			resp.Coefficients = artifact.Model.Coefficients
			resp.Intercept = artifact.Model.Intercept
		}
		resp.TemperatureEncoded = artifact.TemperatureEncoded
		if artifact.Encoder != nil {
			resp.Classes = artifact.Encoder.Classes
		}
		metrics := artifact.Metrics
		resp.Metrics = &metrics
		trainedAt := artifact.TrainedAt
		resp.TrainedAt = &trainedAt
	}
	if a.history != nil {
		logs, err := a.history.LoadTrainingLog()
		if err != nil {
			a.logger.Warnw("failed to load training log", "error", err)
		} else {
			resp.Trainings = logs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type predictResponse struct {
	forecast.Result
	Display string `json:"display"`
}

type predictOutcome struct {
	result forecast.Result
	err    error
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	var in ml.Input
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "")
		return
	}

	// 首次训练可能超过请求截止时间；训练本身不受取消影响
	ctx := r.Context()
	done := make(chan predictOutcome, 1)
	go func() {
		result, err := a.predictor.Predict(ctx, in)
		done <- predictOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			a.writePredictError(w, out.err)
			return
		}
		writeJSON(w, http.StatusOK, predictResponse{
			Result:  out.result,
			Display: fmt.Sprintf("%.2f Q/acre", out.result.Yield),
		})
	case <-ctx.Done():
		writeError(w, http.StatusGatewayTimeout, "model initialization still in progress, retry shortly", "")
	}
}

func (a *API) writePredictError(w http.ResponseWriter, err error) {
	var ie *ml.InitializationError
	var ce *ml.CalculationError
	switch {
	case errors.Is(err, forecast.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.As(err, &ie):
		writeError(w, http.StatusServiceUnavailable, "Initialization Error: "+ie.Err.Error(), ie.Stage)
	case errors.As(err, &ce):
		writeError(w, http.StatusUnprocessableEntity, "Calculation Error: "+ce.Err.Error(), ce.Stage)
	default:
		a.logger.Errorw("unexpected prediction error", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error(), "")
	}
}

func (a *API) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, "prediction history is not configured", "")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = l
	}

	records, err := a.history.RecentPredictions(limit)
	if err != nil {
		a.logger.Errorw("failed to query predictions", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	if records == nil {
		records = []db.PredictionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(records),
		"data":  records,
	})
}

var statusGauge = map[forecast.Status]float64{
	forecast.StatusPending:  0,
	forecast.StatusTraining: 1,
	forecast.StatusReady:    2,
	forecast.StatusFailed:   -1,
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	status, _, _ := a.models.Snapshot()
	a.metrics.SetGauge("model_status", statusGauge[status], nil)
	if a.hub != nil {
		a.metrics.SetGauge("status_clients", float64(a.hub.ClientCount()), nil)
	}
	a.metrics.SetGauge("uptime_seconds", a.metrics.GetUptime().Seconds(), nil)
	a.metrics.Handler().ServeHTTP(w, r)
}
