package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"ecoharvest/logging"
)

const (
	SourceKaggle = "kaggle"
	SourceDir    = "dir"
)

// EnvPrefix scopes environment overrides, e.g. ECOHARVEST_HTTP_PORT.
const EnvPrefix = "ECOHARVEST"

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins" split_words:"true"`
		RateLimit      float64       `yaml:"rate_limit" split_words:"true"`
		RateBurst      int           `yaml:"rate_burst" split_words:"true"`
	} `yaml:"http"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log     LogConfig     `yaml:"log"`
	Model   ModelConfig   `yaml:"model"`
	Dataset DatasetConfig `yaml:"dataset"`
	Cache   struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb" split_words:"true"`
	MaxBackups  int    `yaml:"max_backups" split_words:"true"`
	MaxAgeDays  int    `yaml:"max_age_days" split_words:"true"`
	Development bool   `yaml:"development"`
}

type ModelConfig struct {
	ArtifactPath       string  `yaml:"artifact_path" split_words:"true"`
	EncodeTemperature  bool    `yaml:"encode_temperature" split_words:"true"`
	CelebrateThreshold float64 `yaml:"celebrate_threshold" split_words:"true"`
}

type DatasetConfig struct {
	Source    string        `yaml:"source"`
	Handle    string        `yaml:"handle"`
	FileName  string        `yaml:"file_name" split_words:"true"`
	Extension string        `yaml:"extension"`
	CacheDir  string        `yaml:"cache_dir" split_words:"true"`
	Dir       string        `yaml:"dir"`
	Timeout   time.Duration `yaml:"timeout"`
	BaseURL   string        `yaml:"base_url" split_words:"true"`
	// The Kaggle CLI variable names are honored as fallbacks.
	Username string `yaml:"username" envconfig:"KAGGLE_USERNAME"`
	Key      string `yaml:"key" envconfig:"KAGGLE_KEY"`
}

// Default returns the configuration used for every field the file omits.
func Default() Config {
	var cfg Config
	cfg.Http.Port = 8080
	cfg.Http.Timeout = 30 * time.Second
	cfg.Http.AllowedOrigins = []string{"*"}
	cfg.Http.RateLimit = 20
	cfg.Http.RateBurst = 40
	cfg.Database.Path = "data/ecoharvest.db"
	cfg.Log = LogConfig{
		Level:      "info",
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
	cfg.Model = ModelConfig{
		ArtifactPath:       "crop_yield_model.gob",
		EncodeTemperature:  true,
		CelebrateThreshold: 10,
	}
	cfg.Dataset = DatasetConfig{
		Source:    SourceKaggle,
		Handle:    "yaminh/crop-yield-prediction",
		FileName:  "crop yield data sheet.xlsx",
		Extension: ".xlsx",
		CacheDir:  defaultCacheDir(),
		Timeout:   5 * time.Minute,
	}
	cfg.Cache.Size = 256
	return cfg
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "ecoharvest", "datasets")
	}
	return filepath.Join(".cache", "datasets")
}

// Load reads path over the defaults, then applies a .env file next to it and
// the process environment. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	if err := godotenv.Load(filepath.Join(filepath.Dir(path), ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.Http.Port)
	}
	if c.Model.ArtifactPath == "" {
		return errors.New("model.artifact_path is required")
	}
	if c.Dataset.Extension == "" {
		return errors.New("dataset.extension is required")
	}
	switch c.Dataset.Source {
	case SourceKaggle:
		if c.Dataset.Handle == "" {
			return errors.New("dataset.handle is required for kaggle source")
		}
	case SourceDir:
		if c.Dataset.Dir == "" {
			return errors.New("dataset.dir is required for dir source")
		}
	default:
		return fmt.Errorf("unknown dataset.source %q", c.Dataset.Source)
	}
	if c.Http.RateLimit < 0 || c.Http.RateBurst < 0 {
		return errors.New("http.rate_limit and http.rate_burst must not be negative")
	}
	if c.Cache.Size < 0 {
		return errors.New("cache.size must not be negative")
	}
	return nil
}

// Watch reloads path whenever it is written and hands the new config to
// onChange. The directory is watched so editors that replace the file by
// rename are still seen. Invalid edits are logged and skipped.
func Watch(ctx context.Context, path string, logger *logging.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(abs)
				if err != nil {
					logger.Warnw("config reload rejected", "path", abs, "error", err)
					continue
				}
				logger.Infow("config reloaded", "path", abs)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnw("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
