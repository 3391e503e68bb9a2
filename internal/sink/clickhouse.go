package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pipestat/pipestat/internal/event"
	"github.com/pipestat/pipestat/internal/export"
	"github.com/pipestat/pipestat/internal/meter"
)

// ClickHouseConfig configures the ClickHouse sink.
type ClickHouseConfig struct {
	Enabled bool `yaml:"enabled"`

	export.ClickHouseConfig `yaml:",inline"`
}

// Validate checks the ClickHouse sink config.
func (c *ClickHouseConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}

	return nil
}

// summaryRow is one ClickHouse row per flushed group.
type summaryRow struct {
	UpdatedDateTime time.Time
	Host            string
	EventCount      uint64
	Rate1           float64
	Rate5           float64
	Rate15          float64
	Fields          string
}

// ClickHouseSink persists summary events to a ClickHouse table.
type ClickHouseSink struct {
	log    logrus.FieldLogger
	cfg    ClickHouseConfig
	writer *export.ClickHouseWriter
}

// NewClickHouseSink creates a ClickHouse sink.
func NewClickHouseSink(log logrus.FieldLogger, cfg ClickHouseConfig) *ClickHouseSink {
	return &ClickHouseSink{
		log:    log.WithField("component", "sink/clickhouse"),
		cfg:    cfg,
		writer: export.NewClickHouseWriter(log, cfg.ClickHouseConfig),
	}
}

func (s *ClickHouseSink) Name() string {
	return "clickhouse"
}

func (s *ClickHouseSink) Start(ctx context.Context) error {
	if err := s.writer.Start(ctx); err != nil {
		return fmt.Errorf("starting ClickHouse writer: %w", err)
	}

	return nil
}

func (s *ClickHouseSink) Stop(_ context.Context) error {
	return s.writer.Stop()
}

// Emit inserts one row per summary group in a single batch.
func (s *ClickHouseSink) Emit(ctx context.Context, summaries []*event.Event) error {
	rows := make([]summaryRow, 0, len(summaries))

	for _, ev := range summaries {
		evRows, err := s.toRows(ev)
		if err != nil {
			return err
		}

		rows = append(rows, evRows...)
	}

	if len(rows) == 0 {
		return nil
	}

	conn := s.writer.Conn()
	cfg := s.writer.Config()

	batch, err := conn.PrepareBatch(
		ctx,
		fmt.Sprintf(
			"INSERT INTO %s (updated_date_time, host, event_count, rate_1m, rate_5m, rate_15m, fields, meta_client_name)",
			cfg.QualifiedTable(),
		),
	)
	if err != nil {
		return fmt.Errorf("preparing batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(
			row.UpdatedDateTime,
			row.Host,
			row.EventCount,
			row.Rate1,
			row.Rate5,
			row.Rate15,
			row.Fields,
			cfg.MetaClientName,
		); err != nil {
			return fmt.Errorf("appending row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending batch: %w", err)
	}

	s.log.WithField("rows", len(rows)).Debug("Flushed summaries to ClickHouse")

	return nil
}

// toRows converts a summary event into rows. Combined-shape events
// carry one record per group under the metrics field.
func (s *ClickHouseSink) toRows(ev *event.Event) ([]summaryRow, error) {
	host := ev.GetString(meter.FieldHost)
	now := time.Now()

	if records, ok := ev.Get(meter.FieldMetrics); ok {
		list, ok := records.([]map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected metrics field type %T", records)
		}

		rows := make([]summaryRow, 0, len(list))
		for _, record := range list {
			row, err := recordToRow(now, host, record)
			if err != nil {
				return nil, err
			}

			rows = append(rows, row)
		}

		return rows, nil
	}

	fields := ev.Fields()
	delete(fields, meter.FieldHost)

	row, err := recordToRow(now, host, fields)
	if err != nil {
		return nil, err
	}

	return []summaryRow{row}, nil
}

// recordToRow maps one per-group record to a row, packing the group
// fields as a JSON string.
func recordToRow(now time.Time, host string, record map[string]any) (summaryRow, error) {
	row := summaryRow{
		UpdatedDateTime: now,
		Host:            host,
	}

	groupFields := make(map[string]any, len(record))

	for name, value := range record {
		switch name {
		case meter.FieldEvent:
			row.EventCount = toUint64(value)
		case meter.FieldRate1:
			row.Rate1 = toFloat64(value)
		case meter.FieldRate5:
			row.Rate5 = toFloat64(value)
		case meter.FieldRate15:
			row.Rate15 = toFloat64(value)
		default:
			groupFields[name] = value
		}
	}

	encoded, err := json.Marshal(groupFields)
	if err != nil {
		return summaryRow{}, fmt.Errorf("encoding group fields: %w", err)
	}

	row.Fields = string(encoded)

	return row, nil
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0
		}

		return uint64(n)
	case uint64:
		return n
	case float64:
		if n < 0 {
			return 0
		}

		return uint64(n)
	case int:
		if n < 0 {
			return 0
		}

		return uint64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}
