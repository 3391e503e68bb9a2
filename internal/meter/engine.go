// Package meter implements the streaming aggregation engine: composite
// key derivation, the concurrent counter registry, and the tick-driven
// flush/clear scheduler that materializes summary events.
package meter

import (
	"fmt"
	"math"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/pipestat/pipestat/internal/event"
)

// Summary event field names.
const (
	FieldEvent   = "event"
	FieldHost    = "host"
	FieldMetrics = "metrics"
	FieldRate1   = "rate_1m"
	FieldRate5   = "rate_5m"
	FieldRate15  = "rate_15m"
)

// Engine aggregates events by composite key and periodically emits
// summary events describing each observed group.
//
// The engine runs no goroutine of its own: Mark is called concurrently
// from event workers, OnTick from a single external scheduling source
// at a fixed cadence. Both complete in bounded time with no I/O.
type Engine struct {
	log      logrus.FieldLogger
	cfg      Config
	codec    KeyCodec
	ignore   map[string]struct{}
	host     string
	registry *Registry

	// Elapsed-tick accumulators, in seconds. Mutated only on the tick
	// path; atomic so a relaxed host scheduling guarantee stays safe.
	ticksSinceFlush atomic.Int64
	ticksSinceClear atomic.Int64
}

// NewEngine creates an Engine from config. The host identity is
// resolved exactly once here, never re-read per event.
func NewEngine(log logrus.FieldLogger, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating meter config: %w", err)
	}

	host := cfg.Host
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolving hostname: %w", err)
		}

		host = h
	}

	// The ignore set only applies to list-form groups; named groups
	// produce self-describing keys and are never filtered.
	ignore := make(map[string]struct{}, len(cfg.GroupIgnore))
	if !cfg.Group.Named {
		for _, name := range cfg.GroupIgnore {
			ignore[name] = struct{}{}
		}
	}

	return &Engine{
		log:      log.WithField("component", "meter"),
		cfg:      cfg,
		codec:    NewKeyCodec(cfg.Group),
		ignore:   ignore,
		host:     host,
		registry: NewRegistry(),
	}, nil
}

// Host returns the identity attached to every summary event.
func (e *Engine) Host() string { return e.host }

// LiveGroups returns the number of currently tracked groups.
func (e *Engine) LiveGroups() int { return e.registry.Len() }

// Mark derives the event's composite key and increments its counter.
// Safe for concurrent use; the hot path of the pipeline.
func (e *Engine) Mark(ev *event.Event) {
	e.registry.Mark(e.codec.Derive(ev))
}

// OnTick advances both elapsed-tick accumulators by stepSeconds and
// applies the flush/clear policy. It returns the summary events to
// emit, or nil on the common no-op tick, and whether the registry was
// cleared. Never called concurrently with itself.
func (e *Engine) OnTick(stepSeconds int) ([]*event.Event, bool) {
	sinceFlush := e.ticksSinceFlush.Add(int64(stepSeconds))
	sinceClear := e.ticksSinceClear.Add(int64(stepSeconds))

	if e.registry.Len() == 0 || sinceFlush < int64(e.cfg.FlushInterval) {
		return nil, false
	}

	summaries := e.assemble(e.registry.Snapshot())

	e.ticksSinceFlush.Store(0)

	cleared := e.cfg.ClearInterval > 0 && sinceClear >= int64(e.cfg.ClearInterval)
	if cleared {
		e.ticksSinceClear.Store(0)
		e.registry.Clear()

		e.log.WithField("groups", len(summaries)).Debug("Cleared counter registry")
	}

	return summaries, cleared
}

// FlushNow builds summaries for every live group regardless of elapsed
// ticks. Used for the final emission at shutdown; accumulators and the
// registry are left untouched.
func (e *Engine) FlushNow() []*event.Event {
	entries := e.registry.Snapshot()
	if len(entries) == 0 {
		return nil
	}

	return e.assemble(entries)
}

// assemble materializes summary events from registry entries in the
// configured emission shape.
func (e *Engine) assemble(entries []Entry) []*event.Event {
	if len(entries) == 0 {
		return nil
	}

	if e.cfg.Emit == EmitCombined {
		return e.assembleCombined(entries)
	}

	summaries := make([]*event.Event, 0, len(entries))

	for _, entry := range entries {
		ev := event.New(e.record(entry))
		ev.Set(FieldHost, e.host)
		summaries = append(summaries, ev)
	}

	return summaries
}

// assembleCombined emits a single event carrying one record per group.
func (e *Engine) assembleCombined(entries []Entry) []*event.Event {
	records := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		records = append(records, e.record(entry))
	}

	ev := event.New(map[string]any{
		FieldHost:    e.host,
		FieldMetrics: records,
	})

	return []*event.Event{ev}
}

// record builds the per-group field set: the count, the decomposed
// group fields minus the ignore set, and optionally the decaying rates.
func (e *Engine) record(entry Entry) map[string]any {
	fields := make(map[string]any, e.codec.Len()+4)

	for _, f := range e.codec.Decompose(entry.Key) {
		if _, skip := e.ignore[f.Name]; skip {
			continue
		}

		fields[f.Name] = f.Value
	}

	fields[FieldEvent] = entry.Count

	if e.cfg.IncludeRates() {
		fields[FieldRate1] = round3(entry.Rate1)
		fields[FieldRate5] = round3(entry.Rate5)
		fields[FieldRate15] = round3(entry.Rate15)
	}

	return fields
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
