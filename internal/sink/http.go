package sink

import (
	"context"
	"fmt"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/pipestat/pipestat/internal/event"
	httpexport "github.com/pipestat/pipestat/internal/export/http"
)

// HTTPSink ships summary events to a remote endpoint as NDJSON
// batches via the batch processor.
type HTTPSink struct {
	log  logrus.FieldLogger
	cfg  httpexport.Config
	proc *processor.BatchItemProcessor[event.Event]
}

// NewHTTPSink creates an HTTP sink for the given exporter config.
func NewHTTPSink(log logrus.FieldLogger, cfg httpexport.Config) (*HTTPSink, error) {
	log = log.WithField("component", "sink/http")

	proc, err := httpexport.NewProcessor[event.Event](log, cfg, "summaries")
	if err != nil {
		return nil, fmt.Errorf("creating batch processor: %w", err)
	}

	return &HTTPSink{
		log:  log,
		cfg:  cfg,
		proc: proc,
	}, nil
}

func (s *HTTPSink) Name() string {
	return "http"
}

func (s *HTTPSink) Start(ctx context.Context) error {
	s.proc.Start(ctx)

	s.log.WithField("address", s.cfg.Address).Info("HTTP sink started")

	return nil
}

func (s *HTTPSink) Stop(ctx context.Context) error {
	return s.proc.Shutdown(ctx)
}

// Emit queues summaries for batched delivery. The write is
// asynchronous; export failures are logged by the processor.
func (s *HTTPSink) Emit(ctx context.Context, summaries []*event.Event) error {
	if len(summaries) == 0 {
		return nil
	}

	if err := s.proc.Write(ctx, summaries); err != nil {
		return fmt.Errorf("writing to batch processor: %w", err)
	}

	return nil
}
