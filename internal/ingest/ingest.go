// Package ingest runs the HTTP NDJSON event intake: decoded events are
// queued to a pool of workers that feed the aggregation engine.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pipestat/pipestat/internal/compress"
	"github.com/pipestat/pipestat/internal/event"
	"github.com/pipestat/pipestat/internal/export"
)

// Config configures the ingest server.
type Config struct {
	// Addr is the HTTP listen address. Defaults to ":8080".
	Addr string `yaml:"addr"`

	// Workers is the number of goroutines marking events into the
	// engine. Defaults to 4.
	Workers int `yaml:"workers"`

	// QueueSize is the event queue capacity; events are dropped when
	// the queue is full. Defaults to 65536.
	QueueSize int `yaml:"queue_size"`

	// MaxBodyBytes caps the raw and the decompressed request body
	// size; over-limit requests are rejected with 413.
	// Defaults to 16MB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}

	if c.Workers <= 0 {
		c.Workers = 4
	}

	if c.QueueSize <= 0 {
		c.QueueSize = 65536
	}

	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 16 * 1024 * 1024
	}
}

// errBodyTooLarge rejects raw request bodies over MaxBodyBytes.
var errBodyTooLarge = errors.New("request body exceeds max_body_bytes")

// Handler consumes one decoded event. Called from worker goroutines.
type Handler func(*event.Event)

// ingestResponse is the JSON body returned for each intake request.
type ingestResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Dropped  int `json:"dropped"`
}

// Server accepts NDJSON event batches over HTTP.
type Server struct {
	log     logrus.FieldLogger
	cfg     Config
	handler Handler
	health  *export.HealthMetrics

	queue    chan *event.Event
	server   *http.Server
	listener net.Listener

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates an ingest server delivering events to handler.
func NewServer(
	log logrus.FieldLogger,
	cfg Config,
	handler Handler,
	health *export.HealthMetrics,
) *Server {
	cfg.ApplyDefaults()

	return &Server{
		log:     log.WithField("component", "ingest"),
		cfg:     cfg,
		handler: handler,
		health:  health,
		queue:   make(chan *event.Event, cfg.QueueSize),
	}
}

// Start begins listening and spawns the worker pool.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}

	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)

	s.server = &http.Server{Handler: mux}

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)

		go s.runWorker(ctx)
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("Ingest server error")
		}
	}()

	s.log.WithFields(logrus.Fields{
		"addr":    ln.Addr().String(),
		"workers": s.cfg.Workers,
	}).Info("Ingest server started")

	return nil
}

// Addr returns the actual listener address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.cfg.Addr
}

// Stop shuts the server down and waits for the workers to drain.
// Events still queued at shutdown are discarded.
func (s *Server) Stop() error {
	var err error
	if s.server != nil {
		err = s.server.Close()
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()

	return err
}

// runWorker marks queued events until the context is cancelled.
func (s *Server) runWorker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			s.handler(ev)
		}
	}
}

// handleEvents decodes an NDJSON batch and enqueues each event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)

		return
	}

	body, err := s.readBody(r)
	if err != nil {
		s.log.WithError(err).Debug("Rejected ingest request")

		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) || errors.Is(err, compress.ErrSizeLimit) {
			status = http.StatusRequestEntityTooLarge
		}

		http.Error(w, err.Error(), status)

		return
	}

	resp := s.enqueueLines(body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.WithError(err).Debug("Writing ingest response failed")
	}
}

// readBody reads and decompresses the request body per its
// Content-Encoding header. MaxBodyBytes bounds the raw body and the
// decompressed output independently, so a small highly-compressed
// payload cannot expand past the cap.
func (s *Server) readBody(r *http.Request) ([]byte, error) {
	codec, err := compress.FromContentEncoding(r.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	defer codec.Close()

	raw, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	if int64(len(raw)) > s.cfg.MaxBodyBytes {
		return nil, errBodyTooLarge
	}

	data, err := codec.DecompressLimit(raw, s.cfg.MaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("decompressing body: %w", err)
	}

	return data, nil
}

// enqueueLines parses each NDJSON line into an event and queues it,
// dropping events when the queue is full.
func (s *Server) enqueueLines(body []byte) ingestResponse {
	var resp ingestResponse

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		fields := make(map[string]any, 8)
		if err := json.Unmarshal(line, &fields); err != nil {
			resp.Rejected++

			if s.health != nil {
				s.health.DecodeErrors.Inc()
			}

			continue
		}

		select {
		case s.queue <- event.New(fields):
			resp.Accepted++

			if s.health != nil {
				s.health.EventsReceived.Inc()
			}
		default:
			resp.Dropped++

			if s.health != nil {
				s.health.EventsDropped.Inc()
			}
		}
	}

	if resp.Dropped > 0 {
		s.log.WithField("dropped", resp.Dropped).
			Warn("Ingest queue full, dropping events")
	}

	return resp
}
