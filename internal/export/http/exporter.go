// Package http provides a batched NDJSON exporter for shipping summary
// events to Vector or any other HTTP collector.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/pipestat/pipestat/internal/compress"
)

// Exporter posts item batches as NDJSON, one JSON object per line.
type Exporter[T any] struct {
	log    logrus.FieldLogger
	cfg    Config
	codec  *compress.Codec
	client *http.Client
}

var _ processor.ItemExporter[any] = (*Exporter[any])(nil)

// NewExporter creates an HTTP exporter for the given config.
func NewExporter[T any](log logrus.FieldLogger, cfg Config) (*Exporter[T], error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	codec, err := compress.New(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compression codec: %w", err)
	}

	return &Exporter[T]{
		log:   log.WithField("component", "http_exporter"),
		cfg:   cfg,
		codec: codec,
		client: &http.Client{
			Timeout: cfg.ExportTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.Workers * 2,
				MaxIdleConnsPerHost: cfg.Workers * 2,
				IdleConnTimeout:     90 * time.Second,
				DisableKeepAlives:   !cfg.IsKeepAlive(),
			},
		},
	}, nil
}

// ExportItems sends one batch. Called by the batch processor's
// workers; a returned error makes the processor count a failed batch.
func (e *Exporter[T]) ExportItems(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}

	payload, err := e.encode(items)
	if err != nil {
		return err
	}

	body, err := e.codec.Compress(payload)
	if err != nil {
		return fmt.Errorf("compressing payload: %w", err)
	}

	if err := e.post(ctx, body); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"items":      len(items),
		"bytes":      len(payload),
		"compressed": len(body),
	}).Debug("Exported summary batch")

	return nil
}

// encode renders items as newline-delimited JSON.
func (e *Exporter[T]) encode(items []*T) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(items) * 256)

	enc := json.NewEncoder(&buf)

	for _, item := range items {
		if item == nil {
			continue
		}

		if err := enc.Encode(item); err != nil {
			return nil, fmt.Errorf("encoding item: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// post sends one request and checks for a 2xx response.
func (e *Exporter[T]) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, e.cfg.Address, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")

	if encoding := e.codec.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// Shutdown releases the exporter's compression resources.
func (e *Exporter[T]) Shutdown(_ context.Context) error {
	if e.codec != nil {
		return e.codec.Close()
	}

	return nil
}

// NewProcessor wires an Exporter into a BatchItemProcessor.
func NewProcessor[T any](
	log logrus.FieldLogger,
	cfg Config,
	name string,
) (*processor.BatchItemProcessor[T], error) {
	cfg.ApplyDefaults()

	exporter, err := NewExporter[T](log, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	proc, err := processor.NewBatchItemProcessor[T](
		exporter,
		name,
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(cfg.BatchTimeout),
		processor.WithExportTimeout(cfg.ExportTimeout),
		processor.WithMaxExportBatchSize(cfg.BatchSize),
		processor.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return proc, nil
}
