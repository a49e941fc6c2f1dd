package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Artifacts struct {
		Dir string `yaml:"dir"`
	} `yaml:"artifacts"`
	Training TrainingConfig `yaml:"training"`
	Serving  ServingConfig  `yaml:"serving"`
	Http     struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"http"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log LogConfig `yaml:"log"`
}

type TrainingConfig struct {
	Source         string  `yaml:"source"`
	SourceEncoding string  `yaml:"source_encoding"`
	TestRatio      float64 `yaml:"test_ratio"`
	Seed           int64   `yaml:"seed"`
	ModelType      string  `yaml:"model_type"`
	MinScore       float64 `yaml:"min_score"`
	BundlePipeline bool    `yaml:"bundle_pipeline"`
}

type ServingConfig struct {
	// CacheSize below zero disables the prediction cache.
	CacheSize    int  `yaml:"cache_size"`
	AuditEnabled bool `yaml:"audit_enabled"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultSeed is the split seed used when training.seed is absent. It is
// set before decoding so an explicit seed of 0 is kept.
const DefaultSeed = 42

func Default() *Config {
	cfg := &Config{}
	cfg.Training.Seed = DefaultSeed
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file. A missing file yields the defaults; the PORT
// environment variable overrides http.port.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Training.Seed = DefaultSeed
	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	cfg.applyDefaults()
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Http.Port = p
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = "artifacts"
	}
	if c.Training.SourceEncoding == "" {
		c.Training.SourceEncoding = "utf-8"
	}
	if c.Training.TestRatio == 0 {
		c.Training.TestRatio = 0.2
	}
	if c.Training.ModelType == "" {
		c.Training.ModelType = "linear_regression"
	}
	if c.Serving.CacheSize == 0 {
		c.Serving.CacheSize = 1024
	}
	if c.Http.Port == 0 {
		c.Http.Port = 8080
	}
	if c.Http.Timeout == 0 {
		c.Http.Timeout = 30 * time.Second
	}
	if c.Http.MaxBodyBytes == 0 {
		c.Http.MaxBodyBytes = 1 << 20
	}
	if len(c.Http.AllowedOrigins) == 0 {
		c.Http.AllowedOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}
}

func (c *Config) Validate() error {
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		return fmt.Errorf("training.test_ratio must be in (0, 1), got %v", c.Training.TestRatio)
	}
	if c.Training.ModelType != "linear_regression" {
		return fmt.Errorf("unsupported training.model_type %q", c.Training.ModelType)
	}
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("invalid http.port %d", c.Http.Port)
	}
	return nil
}
