// Package sink delivers summary events to their configured
// destinations.
package sink

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pipestat/pipestat/internal/event"
	httpexport "github.com/pipestat/pipestat/internal/export/http"
)

// Sink receives summary events produced on each flush.
type Sink interface {
	// Name returns the sink name for logging and metrics.
	Name() string
	// Start initializes the sink.
	Start(ctx context.Context) error
	// Stop flushes any buffered summaries and releases resources.
	Stop(ctx context.Context) error
	// Emit delivers a batch of summary events.
	Emit(ctx context.Context, summaries []*event.Event) error
}

// LogConfig configures the log sink.
type LogConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config holds the configuration for all sinks.
type Config struct {
	Log        LogConfig         `yaml:"log"`
	HTTP       httpexport.Config `yaml:"http"`
	ClickHouse ClickHouseConfig  `yaml:"clickhouse"`
}

// Validate checks that at least one sink is enabled and each enabled
// sink's config is sound.
func (c *Config) Validate() error {
	if !c.Log.Enabled && !c.HTTP.Enabled && !c.ClickHouse.Enabled {
		return fmt.Errorf("no sinks enabled")
	}

	if c.HTTP.Enabled {
		if err := c.HTTP.Validate(); err != nil {
			return fmt.Errorf("http sink: %w", err)
		}
	}

	if c.ClickHouse.Enabled {
		if err := c.ClickHouse.Validate(); err != nil {
			return fmt.Errorf("clickhouse sink: %w", err)
		}
	}

	return nil
}

// NewSinks builds the enabled sinks from config.
func NewSinks(log logrus.FieldLogger, cfg Config) ([]Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sinks := make([]Sink, 0, 3)

	if cfg.Log.Enabled {
		sinks = append(sinks, NewLogSink(log))
	}

	if cfg.HTTP.Enabled {
		s, err := NewHTTPSink(log, cfg.HTTP)
		if err != nil {
			return nil, fmt.Errorf("creating http sink: %w", err)
		}

		sinks = append(sinks, s)
	}

	if cfg.ClickHouse.Enabled {
		sinks = append(sinks, NewClickHouseSink(log, cfg.ClickHouse))
	}

	return sinks, nil
}
