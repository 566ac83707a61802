package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"ecoharvest/db"
	"ecoharvest/logging"
	"ecoharvest/ml"
)

const DefaultCelebrateThreshold = 10.0

var ErrInvalidInput = errors.New("invalid input")

// ModelSource yields the fitted artifact; *Provider is the production one.
type ModelSource interface {
	Model(ctx context.Context) (*ml.Artifact, error)
}

type PredictionRecorder interface {
	SavePrediction(db.PredictionRecord) error
}

// Result is a prediction plus the presentational celebrate signal.
type Result struct {
	ml.Prediction
	Celebrate bool `json:"celebrate"`
}

// Metrics receives per-request counters; *monitoring.MetricsCollector is one.
type Metrics interface {
	IncrCounter(name string, labels map[string]string)
	ObserveDuration(name string, d time.Duration)
}

type ServiceOption func(*Service)

func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

type ServiceConfig struct {
	CacheSize          int
	CelebrateThreshold float64
}

// Service serves one prediction per user submission.
type Service struct {
	models    ModelSource
	recorder  PredictionRecorder
	cache     *lru.Cache[ml.Input, Result]
	threshold float64
	metrics   Metrics
	logger    *logging.Logger
	now       func() time.Time
}

func NewService(models ModelSource, recorder PredictionRecorder, config ServiceConfig, logger *logging.Logger, opts ...ServiceOption) (*Service, error) {
	if models == nil {
		return nil, errors.New("model source is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Service{
		models:    models,
		recorder:  recorder,
		threshold: config.CelebrateThreshold,
		logger:    logger,
		now:       time.Now,
	}
	if config.CacheSize > 0 {
		cache, err := lru.New[ml.Input, Result](config.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create prediction cache: %w", err)
		}
		s.cache = cache
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ValidateInput enforces the ranges the input form allows.
func ValidateInput(in ml.Input) error {
	checks := []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"rainfall", in.Rainfall, 0, math.Inf(1)},
		{"temperature", float64(in.Temperature), 0, 60},
		{"fertilizer", in.Fertilizer, 0, math.Inf(1)},
		{"nitrogen", in.Nitrogen, 0, 100},
		{"phosphorus", in.Phosphorus, 0, 100},
		{"potassium", in.Potassium, 0, 100},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidInput, c.name)
		}
		if c.value < c.min || c.value > c.max {
			return fmt.Errorf("%w: %s=%v outside [%v, %v]", ErrInvalidInput, c.name, c.value, c.min, c.max)
		}
	}
	return nil
}

// Predict returns ml.InitializationError when no model is available and
// ml.CalculationError when this request alone failed.
func (s *Service) Predict(ctx context.Context, in ml.Input) (Result, error) {
	start := s.now()
	result, err := s.predict(ctx, in)
	if s.metrics != nil {
		s.metrics.ObserveDuration("prediction_seconds", s.now().Sub(start))
		if err != nil {
			s.metrics.IncrCounter("prediction_errors_total", map[string]string{"kind": errorKind(err)})
		} else {
			s.metrics.IncrCounter("predictions_total", nil)
			if result.Fallback {
				s.metrics.IncrCounter("prediction_fallback_total", nil)
			}
		}
	}
	return result, err
}

func (s *Service) predict(ctx context.Context, in ml.Input) (Result, error) {
	if err := ValidateInput(in); err != nil {
		return Result{}, err
	}
	artifact, err := s.models.Model(ctx)
	if err != nil {
		return Result{}, err
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(in); ok {
			if s.metrics != nil {
				s.metrics.IncrCounter("prediction_cache_hits_total", nil)
			}
			s.record(in, cached)
			return cached, nil
		}
	}

	pred, err := ml.Predict(artifact, in)
	if err != nil {
		s.logger.Warnw("prediction failed", "error", err)
		return Result{}, err
	}
	if pred.Fallback {
		s.logger.Debugw("temperature not seen in training, using fallback code",
			"temperature", in.Temperature, "code", ml.FallbackCode)
	}
	result := Result{Prediction: pred, Celebrate: pred.Yield > s.threshold}

	if s.cache != nil {
		s.cache.Add(in, result)
	}
	s.record(in, result)
	return result, nil
}

// errorKind labels an error for metrics: the failing stage when known.
func errorKind(err error) string {
	var ie *ml.InitializationError
	var ce *ml.CalculationError
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.As(err, &ie):
		return "init_" + string(ie.Stage)
	case errors.As(err, &ce):
		return "calc_" + string(ce.Stage)
	}
	return "other"
}

func (s *Service) record(in ml.Input, result Result) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.SavePrediction(db.PredictionRecord{
		Rainfall:        in.Rainfall,
		Temperature:     in.Temperature,
		Fertilizer:      in.Fertilizer,
		Nitrogen:        in.Nitrogen,
		Phosphorus:      in.Phosphorus,
		Potassium:       in.Potassium,
		TemperatureCode: result.TemperatureCode,
		Fallback:        result.Fallback,
		Yield:           result.Yield,
		CreatedAt:       s.now(),
	})
	if err != nil {
		s.logger.Warnw("failed to record prediction", "error", err)
	}
}
