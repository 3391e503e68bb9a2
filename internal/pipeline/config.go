package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pipestat/pipestat/internal/export"
	"github.com/pipestat/pipestat/internal/ingest"
	"github.com/pipestat/pipestat/internal/meter"
	"github.com/pipestat/pipestat/internal/sink"
)

// Config is the top-level configuration for the pipestat pipeline.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Meter configures grouping, flush and clear behavior.
	Meter meter.Config `yaml:"meter"`

	// Ingest configures the HTTP event intake.
	Ingest ingest.Config `yaml:"ingest"`

	// Sinks configures summary delivery.
	Sinks sink.Config `yaml:"sinks"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Meter:    meter.DefaultConfig(),
		Sinks: sink.Config{
			Log: sink.LogConfig{Enabled: true},
		},
		Health: export.HealthConfig{
			Addr: ":9090",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if err := c.Meter.Validate(); err != nil {
		return fmt.Errorf("meter: %w", err)
	}

	if err := c.Sinks.Validate(); err != nil {
		return fmt.Errorf("sinks: %w", err)
	}

	return nil
}
