package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const envWorkerAuth = "JOBWATCH_WORKER_AUTH"

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type ServerConfig struct {
	Listen      string `yaml:"listen"`
	MetricsPath string `yaml:"metrics_path"`
	WorkerAuth  string `yaml:"worker_auth"`
}

type PollerConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type WorkerConfig struct {
	TickRate time.Duration `yaml:"tick_rate"`
	Delay    time.Duration `yaml:"delay"` // simulated generation latency
}

type Config struct {
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	Poller PollerConfig `yaml:"poller"`
	Cache  CacheConfig  `yaml:"cache"`
	Worker WorkerConfig `yaml:"worker"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Load reads a YAML config file. A missing file at path is not an error;
// defaults are used instead so the CLI works without any setup.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if v := os.Getenv(envWorkerAuth); v != "" {
		cfg.Server.WorkerAuth = v
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Poller.BaseURL == "" {
		c.Poller.BaseURL = "http://localhost:8080"
	}
	if c.Poller.Interval <= 0 {
		c.Poller.Interval = 2 * time.Second
	}
	if c.Poller.MaxAttempts <= 0 {
		c.Poller.MaxAttempts = 30
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Worker.TickRate <= 0 {
		c.Worker.TickRate = 100 * time.Millisecond
	}
	if c.Worker.Delay < 0 {
		c.Worker.Delay = 0
	}
}

func (c *Config) Validate() error {
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// RequireWorkerAuth reports a missing worker secret. Only commands that run
// the job server need one.
func (c *Config) RequireWorkerAuth() error {
	if c.Server.WorkerAuth == "" {
		return errors.New("server.worker_auth is required (or set " + envWorkerAuth + ")")
	}
	return nil
}
