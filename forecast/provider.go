package forecast

import (
	"context"
	"errors"
	"sync"
	"time"

	"ecoharvest/db"
	"ecoharvest/logging"
	"ecoharvest/ml"
	"ecoharvest/pipeline"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusTraining Status = "training"
	StatusReady    Status = "ready"
	StatusFailed   Status = "failed"
)

type StatusEvent struct {
	Status  Status    `json:"status"`
	Stage   ml.Stage  `json:"stage,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// StatusSink receives lifecycle events, e.g. for pushing to connected clients.
type StatusSink interface {
	PublishStatus(StatusEvent)
}

type TrainingRecorder interface {
	SaveTrainingLog(db.TrainingLog) error
}

type ProviderConfig struct {
	ArtifactPath      string
	FileName          string
	Extension         string
	EncodeTemperature bool
}

type ProviderOption func(*Provider)

func WithTrainingRecorder(r TrainingRecorder) ProviderOption {
	return func(p *Provider) { p.history = r }
}

func WithStatusSink(s StatusSink) ProviderOption {
	return func(p *Provider) { p.sink = s }
}

func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) { p.now = now }
}

// Provider owns the model lifecycle for one process: it loads the persisted
// artifact or, when none exists, acquires the dataset, trains and persists.
// The outcome, success or failure, is memoized; a failed initialization is
// not retried until the process restarts.
type Provider struct {
	config  ProviderConfig
	source  pipeline.Source
	history TrainingRecorder
	sink    StatusSink
	logger  *logging.Logger
	now     func() time.Time

	mu       sync.Mutex
	done     bool
	artifact *ml.Artifact
	err      error
	trained  int

	statusMu sync.RWMutex
	status   Status
	ready    *ml.Artifact
	failure  error
}

func NewProvider(config ProviderConfig, source pipeline.Source, logger *logging.Logger, opts ...ProviderOption) *Provider {
	if logger == nil {
		logger = logging.Nop()
	}
	p := &Provider{
		config: config,
		source: source,
		logger: logger,
		now:    time.Now,
		status: StatusPending,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Model returns the memoized artifact, initializing it on first use.
// Cancellation of ctx does not abort a first-time setup already underway.
func (p *Provider) Model(ctx context.Context) (*ml.Artifact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return p.artifact, p.err
	}
	p.artifact, p.err = p.initialize(context.WithoutCancel(ctx))
	p.done = true
	if p.err != nil {
		p.finish(StatusFailed, nil, p.err)
		var ie *ml.InitializationError
		stage := ml.Stage("")
		if errors.As(p.err, &ie) {
			stage = ie.Stage
		}
		p.logger.Errorw("model initialization failed", "stage", stage, "error", p.err)
		p.publish(StatusEvent{Status: StatusFailed, Stage: stage, Message: p.err.Error()})
	} else {
		p.finish(StatusReady, p.artifact, nil)
		p.publish(StatusEvent{Status: StatusReady})
	}
	return p.artifact, p.err
}

// Status does not wait for an initialization in progress.
func (p *Provider) Status() Status {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.status
}

// Snapshot reports the current status and, once initialization finished,
// its outcome. It never triggers initialization.
func (p *Provider) Snapshot() (Status, *ml.Artifact, error) {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.status, p.ready, p.failure
}

// CurrentEvent describes the present state for clients that connect late.
func (p *Provider) CurrentEvent() StatusEvent {
	status, _, err := p.Snapshot()
	event := StatusEvent{Status: status, Time: p.now()}
	if err != nil {
		event.Message = err.Error()
		var ie *ml.InitializationError
		if errors.As(err, &ie) {
			event.Stage = ie.Stage
		}
	}
	return event
}

func (p *Provider) finish(status Status, artifact *ml.Artifact, err error) {
	p.statusMu.Lock()
	p.status = status
	p.ready = artifact
	p.failure = err
	p.statusMu.Unlock()
}

func (p *Provider) setStatus(status Status) {
	p.statusMu.Lock()
	p.status = status
	p.statusMu.Unlock()
}

// Trainings reports how many times this provider ran the slow path.
func (p *Provider) Trainings() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trained
}

func (p *Provider) initialize(ctx context.Context) (*ml.Artifact, error) {
	path := p.config.ArtifactPath
	exists, err := ml.ArtifactExists(path)
	if err != nil {
		return nil, ml.InitError(ml.StageLoad, err)
	}
	if exists {
		artifact, err := ml.LoadArtifact(path)
		if err != nil {
			return nil, ml.InitError(ml.StageLoad, err)
		}
		p.logger.Infow("model artifact loaded", "artifact", path, "trained_at", artifact.TrainedAt,
			"temperature_encoded", artifact.TemperatureEncoded)
		return artifact, nil
	}

	p.setStatus(StatusTraining)
	p.publish(StatusEvent{Status: StatusTraining, Message: "first-time setup: acquiring dataset and training model"})
	return p.train(ctx)
}

func (p *Provider) train(ctx context.Context) (*ml.Artifact, error) {
	start := p.now()
	p.trained++

	dir, err := p.source.Acquire(ctx)
	if err != nil {
		return nil, ml.InitError(ml.StageAcquire, err)
	}
	file, err := pipeline.LocateFile(dir, p.config.FileName, p.config.Extension)
	if err != nil {
		return nil, ml.InitError(ml.StageAcquire, err)
	}
	p.publish(StatusEvent{Status: StatusTraining, Stage: ml.StageAcquire, Message: "dataset acquired"})

	records, stats, err := pipeline.LoadRecords(file)
	if err != nil {
		return nil, ml.InitError(ml.StageSchema, err)
	}
	p.logger.Infow("dataset cleaned", "file", file, "rows", stats.Passed, "dropped", stats.Rejected)

	artifact, err := ml.Train(records, ml.TrainOptions{
		EncodeTemperature: p.config.EncodeTemperature,
		Now:               p.now,
	})
	if err != nil {
		return nil, err
	}
	p.publish(StatusEvent{Status: StatusTraining, Stage: ml.StageFit, Message: "model fitted"})

	if err := ml.SaveArtifact(p.config.ArtifactPath, artifact); err != nil {
		return nil, ml.InitError(ml.StagePersist, err)
	}

	classes := 0
	if artifact.Encoder != nil {
		classes = artifact.Encoder.Len()
	}
	p.logger.Infow("model trained", "artifact", p.config.ArtifactPath, "rows", artifact.Metrics.Rows,
		"classes", classes, "r2", artifact.Metrics.R2, "duration", p.now().Sub(start))

	if p.history != nil {
		err := p.history.SaveTrainingLog(db.TrainingLog{
			ModelName:          "linear_regression",
			ArtifactPath:       p.config.ArtifactPath,
			Rows:               artifact.Metrics.Rows,
			Dropped:            int(stats.Rejected),
			R2:                 artifact.Metrics.R2,
			RMSE:               artifact.Metrics.RMSE,
			Classes:            classes,
			TemperatureEncoded: artifact.TemperatureEncoded,
			TrainedAt:          artifact.TrainedAt,
		})
		if err != nil {
			p.logger.Warnw("failed to record training log", "error", err)
		}
	}
	return artifact, nil
}

func (p *Provider) publish(event StatusEvent) {
	if p.sink == nil {
		return
	}
	event.Time = p.now()
	p.sink.PublishStatus(event)
}
