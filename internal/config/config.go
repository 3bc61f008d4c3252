// Package config loads service configuration from YAML with environment
// variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Durations are kept as strings
// ("30s", "10m") and parsed through the Get* accessors, which fall back to
// the defaults on malformed values.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Engine    EngineConfig    `yaml:"engine"`
	Collector CollectorConfig `yaml:"collector"`
	Review    ReviewConfig    `yaml:"review"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig selects the narrative engine provider.
type EngineConfig struct {
	Provider string `yaml:"provider"` // gemini | openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// CollectorConfig configures the environment data provider.
type CollectorConfig struct {
	BaseURL       string `yaml:"base_url"`
	Token         string `yaml:"token"`
	Timeout       string `yaml:"timeout"`
	BranchTimeout string `yaml:"branch_timeout"`
}

// ReviewConfig carries orchestration tunables. The confidence values are
// conventions with sensible defaults, not business rules.
type ReviewConfig struct {
	UserAnswerConfidence    float64 `yaml:"user_answer_confidence"`
	DerivedAnswerConfidence float64 `yaml:"derived_answer_confidence"`
	PipelineTimeout         string  `yaml:"pipeline_timeout"`
	BankPath                string  `yaml:"bank_path"` // optional override of the embedded bank
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},
		Store: StoreConfig{
			Path: "data/pillarscope.db",
		},
		Engine: EngineConfig{
			Provider: "gemini",
			Timeout:  "2m",
		},
		Collector: CollectorConfig{
			Timeout:       "30s",
			BranchTimeout: "30s",
		},
		Review: ReviewConfig{
			UserAnswerConfidence:    0.9,
			DerivedAnswerConfidence: 0.8,
			PipelineTimeout:         "10m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration file at path, layered over defaults, then
// applies environment overrides. A missing file is not an error: defaults
// plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetShutdownTimeout returns the HTTP shutdown grace period.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// GetEngineTimeout returns the per-invocation engine bound.
func (c *Config) GetEngineTimeout() time.Duration {
	return parseDuration(c.Engine.Timeout, 2*time.Minute)
}

// GetCollectorTimeout returns the HTTP client timeout for sub-collectors.
func (c *Config) GetCollectorTimeout() time.Duration {
	return parseDuration(c.Collector.Timeout, 30*time.Second)
}

// GetBranchTimeout returns the per-category collection bound.
func (c *Config) GetBranchTimeout() time.Duration {
	return parseDuration(c.Collector.BranchTimeout, 30*time.Second)
}

// GetPipelineTimeout returns the end-to-end background pipeline bound.
func (c *Config) GetPipelineTimeout() time.Duration {
	return parseDuration(c.Review.PipelineTimeout, 10*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// applyEnv layers environment variables over the file. Secrets normally
// arrive this way rather than through the YAML.
func (c *Config) applyEnv() {
	if v := os.Getenv("PILLARSCOPE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PILLARSCOPE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("PILLARSCOPE_ENGINE_PROVIDER"); v != "" {
		c.Engine.Provider = v
	}
	if v := os.Getenv("PILLARSCOPE_ENGINE_API_KEY"); v != "" {
		c.Engine.APIKey = v
	}
	if v := os.Getenv("PILLARSCOPE_ENGINE_MODEL"); v != "" {
		c.Engine.Model = v
	}
	if v := os.Getenv("PILLARSCOPE_COLLECTOR_URL"); v != "" {
		c.Collector.BaseURL = v
	}
	if v := os.Getenv("PILLARSCOPE_COLLECTOR_TOKEN"); v != "" {
		c.Collector.Token = v
	}
	if v := os.Getenv("PILLARSCOPE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) validate() error {
	switch c.Engine.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown engine provider %q", c.Engine.Provider)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}
