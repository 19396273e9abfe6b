// Package config loads node configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/terraskye/eventlog/consistency"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// ErrInvalidConfig is matched by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Storage    Storage    `yaml:"storage"`
	Retry      Retry      `yaml:"retry"`
	Checkpoint Checkpoint `yaml:"checkpoint"`
	Bus        Bus        `yaml:"bus"`
	LogLevel   string     `yaml:"logLevel"`
}

type Storage struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	SyncWrites bool   `yaml:"syncWrites"`
}

type Retry struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

type Checkpoint struct {
	MaxBatchSize int `yaml:"maxBatchSize"`
	PageSize     int `yaml:"pageSize"`
}

type Bus struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"bufferSize"`
}

// Default returns the configuration of an in-memory node.
func Default() Config {
	p := consistency.DefaultRetryPolicy()
	return Config{
		Storage: Storage{Backend: BackendMemory},
		Retry: Retry{
			MaxAttempts:     p.MaxAttempts,
			InitialInterval: p.InitialInterval,
			MaxInterval:     p.MaxInterval,
		},
		Checkpoint: Checkpoint{MaxBatchSize: 500, PageSize: 100},
		Bus:        Bus{Enabled: true, BufferSize: 256},
		LogLevel:   "info",
	}
}

// Load reads the YAML file at path over the defaults. Durations are written
// as Go durations, e.g. "250ms".
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the badger backend: %w", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("unknown storage backend %q: %w", c.Storage.Backend, ErrInvalidConfig)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be at least 1: %w", ErrInvalidConfig)
	}
	if c.Retry.InitialInterval < 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("retry intervals %s..%s: %w", c.Retry.InitialInterval, c.Retry.MaxInterval, ErrInvalidConfig)
	}
	if c.Checkpoint.MaxBatchSize < 1 || c.Checkpoint.PageSize < 1 {
		return fmt.Errorf("checkpoint batch and page sizes must be positive: %w", ErrInvalidConfig)
	}
	if c.Bus.Enabled && c.Bus.BufferSize < 1 {
		return fmt.Errorf("bus.bufferSize must be positive: %w", ErrInvalidConfig)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("logLevel: %v: %w", err, ErrInvalidConfig)
	}
	return nil
}

func (c Config) RetryPolicy() consistency.RetryPolicy {
	return consistency.RetryPolicy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
	}
}

// Level returns the configured log level, info when it does not parse.
func (c Config) Level() logrus.Level {
	l, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}
