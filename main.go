package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ecoharvest/config"
	"ecoharvest/db"
	"ecoharvest/forecast"
	qhttp "ecoharvest/http"
	"ecoharvest/logging"
	"ecoharvest/monitoring"
	"ecoharvest/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Development: cfg.Log.Development,
	})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 只有日志级别支持热更新
	if err := config.Watch(ctx, *configPath, logger, func(next *config.Config) {
		logger.SetLevel(next.Log.Level)
		logger.Infow("config reloaded", "log_level", next.Log.Level)
	}); err != nil {
		logger.Warnw("config watch disabled", "error", err)
	}

	// 2. Initialize database
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalw("failed to initialize database", "path", cfg.Database.Path, "error", err)
	}
	defer store.Close()
	logger.Infow("database initialized", "path", cfg.Database.Path)

	// 3. Model provider, status feed and prediction service
	var provider *forecast.Provider
	hub := qhttp.NewStatusHub(cfg.Http.AllowedOrigins, func() forecast.StatusEvent {
		return provider.CurrentEvent()
	}, logger)
	go hub.Run(ctx)

	provider = forecast.NewProvider(forecast.ProviderConfig{
		ArtifactPath:      cfg.Model.ArtifactPath,
		FileName:          cfg.Dataset.FileName,
		Extension:         cfg.Dataset.Extension,
		EncodeTemperature: cfg.Model.EncodeTemperature,
	}, newSource(cfg, logger), logger,
		forecast.WithTrainingRecorder(store),
		forecast.WithStatusSink(hub),
	)

	metrics := monitoring.NewMetricsCollector()
	metrics.Describe("predictions_total", "Predictions served")
	metrics.Describe("prediction_errors_total", "Failed prediction requests by error kind")
	metrics.Describe("model_status", "0 pending, 1 training, 2 ready, -1 failed")
	service, err := forecast.NewService(provider, store, forecast.ServiceConfig{
		CacheSize:          cfg.Cache.Size,
		CelebrateThreshold: cfg.Model.CelebrateThreshold,
	}, logger, forecast.WithMetrics(metrics))
	if err != nil {
		logger.Fatalw("failed to create prediction service", "error", err)
	}

	// 预热：首次部署时后台下载数据并训练，失败会被缓存直到重启
	go func() {
		if _, err := provider.Model(ctx); err != nil {
			logger.Errorw("model unavailable until restart", "error", err)
		}
	}()

	// 4. Start HTTP server
	api := qhttp.NewAPI(provider, service, store, hub, logger).WithMetrics(metrics)
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		MaxBodyBytes:   1 << 20,
		AllowedOrigins: cfg.Http.AllowedOrigins,
		RateLimit:      cfg.Http.RateLimit,
		RateBurst:      cfg.Http.RateBurst,
	}, api, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. Handle graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Errorw("HTTP server failed", "error", err)
		}
	}
	logger.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warnw("server forced to shutdown", "error", err)
	}
	logger.Infow("exiting")
}

func newSource(cfg *config.Config, logger *logging.Logger) pipeline.Source {
	if cfg.Dataset.Source == config.SourceDir {
		return pipeline.DirSource{Dir: cfg.Dataset.Dir}
	}
	return pipeline.NewKaggleSource(pipeline.KaggleConfig{
		Handle:   cfg.Dataset.Handle,
		CacheDir: cfg.Dataset.CacheDir,
		Username: cfg.Dataset.Username,
		Key:      cfg.Dataset.Key,
		BaseURL:  cfg.Dataset.BaseURL,
		Timeout:  cfg.Dataset.Timeout,
	}, logger.SugaredLogger)
}
