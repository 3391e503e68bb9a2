// Package pipeline wires intake, metering and sinks into a running
// aggregation pipeline.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pipestat/pipestat/internal/event"
	"github.com/pipestat/pipestat/internal/export"
	"github.com/pipestat/pipestat/internal/ingest"
	"github.com/pipestat/pipestat/internal/meter"
	"github.com/pipestat/pipestat/internal/sink"
)

// tickStep is the scheduler tick period in seconds. Flush and clear
// intervals are counted in these ticks.
const tickStep = 1

// Pipeline is the top-level orchestrator for pipestat.
type Pipeline interface {
	// Start initializes all components and begins aggregating.
	Start(ctx context.Context) error
	// Stop shuts down all components gracefully, delivering a final
	// flush of any live groups.
	Stop() error
}

type pipeline struct {
	log    logrus.FieldLogger
	cfg    *Config
	health *export.HealthMetrics
	engine *meter.Engine
	server *ingest.Server
	sinks  []sink.Sink

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Pipeline.
func New(log logrus.FieldLogger, cfg *Config) (Pipeline, error) {
	health := export.NewHealthMetrics(log, cfg.Health)

	engine, err := meter.NewEngine(log, cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	sinks, err := sink.NewSinks(log, cfg.Sinks)
	if err != nil {
		return nil, fmt.Errorf("creating sinks: %w", err)
	}

	p := &pipeline{
		log:    log.WithField("component", "pipeline"),
		cfg:    cfg,
		health: health,
		engine: engine,
		sinks:  sinks,
	}

	p.server = ingest.NewServer(log, cfg.Ingest, p.handleEvent, health)

	return p, nil
}

func (p *pipeline) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	// 1. Start health metrics server.
	if err := p.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	// 2. Start all enabled sinks.
	for _, s := range p.sinks {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("starting sink %s: %w", s.Name(), err)
		}

		p.log.WithField("sink", s.Name()).Info("Sink started")
	}

	// 3. Start the event intake.
	if err := p.server.Start(ctx); err != nil {
		return fmt.Errorf("starting ingest server: %w", err)
	}

	// 4. Start the tick loop.
	p.wg.Add(1)

	go p.runTicker(ctx)

	p.log.WithFields(logrus.Fields{
		"host":           p.engine.Host(),
		"flush_interval": p.cfg.Meter.FlushInterval,
		"clear_interval": p.cfg.Meter.ClearInterval,
	}).Info("Pipeline fully started")

	return nil
}

func (p *pipeline) Stop() error {
	// Stop intake first so no new events arrive during the final
	// flush.
	if p.server != nil {
		if err := p.server.Stop(); err != nil {
			p.log.WithError(err).Error("Error stopping ingest server")
		}
	}

	if p.cancel != nil {
		p.cancel()
	}

	p.wg.Wait()

	// Deliver anything still accumulated.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if summaries := p.engine.FlushNow(); len(summaries) > 0 {
		p.deliver(ctx, summaries)
	}

	for _, s := range p.sinks {
		if err := s.Stop(ctx); err != nil {
			p.log.WithError(err).WithField("sink", s.Name()).
				Error("Error stopping sink")
		}
	}

	if p.health != nil {
		if err := p.health.Stop(); err != nil {
			p.log.WithError(err).Error("Error stopping health server")
		}
	}

	return nil
}

// handleEvent marks one ingested event into the engine. Called from
// ingest workers.
func (p *pipeline) handleEvent(ev *event.Event) {
	p.engine.Mark(ev)
	p.health.MarksTotal.Inc()
}

// runTicker drives the engine's flush and clear schedule.
func (p *pipeline) runTicker(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(tickStep * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick advances the engine one step and fans out any flushed
// summaries.
func (p *pipeline) tick(ctx context.Context) {
	start := time.Now()

	summaries, cleared := p.engine.OnTick(tickStep)

	p.health.LiveGroups.Set(float64(p.engine.LiveGroups()))

	if cleared {
		p.health.ClearsTotal.Inc()
	}

	if len(summaries) == 0 {
		return
	}

	p.health.FlushesTotal.Inc()
	p.health.FlushDuration.Observe(time.Since(start).Seconds())

	p.deliver(ctx, summaries)
}

// deliver fans summaries out to every sink.
func (p *pipeline) deliver(ctx context.Context, summaries []*event.Event) {
	p.health.SummariesEmitted.Add(float64(len(summaries)))

	for _, s := range p.sinks {
		if err := s.Emit(ctx, summaries); err != nil {
			p.health.SinkEmitErrors.WithLabelValues(s.Name()).Inc()
			p.log.WithError(err).WithField("sink", s.Name()).
				Error("Sink emit failed")
		}
	}
}
