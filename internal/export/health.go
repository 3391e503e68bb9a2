// Package export holds the outbound surfaces shared by sinks: the
// Prometheus health server and the ClickHouse writer.
package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for pipeline health.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Ingest path.
	EventsReceived prometheus.Counter
	EventsDropped  prometheus.Counter
	DecodeErrors   prometheus.Counter

	// Aggregation engine.
	MarksTotal    prometheus.Counter
	LiveGroups    prometheus.Gauge
	FlushesTotal  prometheus.Counter
	ClearsTotal   prometheus.Counter
	FlushDuration prometheus.Histogram

	// Emission path.
	SummariesEmitted prometheus.Counter
	SinkEmitErrors   *prometheus.CounterVec // sink

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(log logrus.FieldLogger, cfg HealthConfig) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipestat",
			Name:      "events_received_total",
			Help:      "Total events accepted by the ingest server.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipestat",
			Name:      "events_dropped_total",
			Help:      "Total events dropped because the worker queue was full.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipestat",
			Name:      "decode_errors_total",
			Help:      "Total ingest payload lines that failed to decode.",
		}),
		MarksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipestat",
			Name:      "marks_total",
			Help:      "Total events marked into the counter registry.",
		}),
		LiveGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipestat",
			Name:      "live_groups",
			Help:      "Number of groups currently tracked in the registry.",
		}),
		FlushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipestat",
			Name:      "flushes_total",
			Help:      "Total summary flushes emitted.",
		}),
		ClearsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipestat",
			Name:      "clears_total",
			Help:      "Total whole-registry clears.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pipestat",
			Name:      "flush_duration_seconds",
			Help:      "Time to assemble and deliver one summary flush.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		SummariesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipestat",
			Name:      "summaries_emitted_total",
			Help:      "Total summary events handed to sinks.",
		}),
		SinkEmitErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pipestat",
				Name:      "sink_emit_errors_total",
				Help:      "Total summary delivery errors by sink.",
			},
			[]string{"sink"},
		),
	}

	reg.MustRegister(
		h.EventsReceived,
		h.EventsDropped,
		h.DecodeErrors,
		h.MarksTotal,
		h.LiveGroups,
		h.FlushesTotal,
		h.ClearsTotal,
		h.FlushDuration,
		h.SummariesEmitted,
		h.SinkEmitErrors,
	)

	return h
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for CPU/memory profiling.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop gracefully shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
