package export

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"
)

// ClickHouseConfig configures the ClickHouse writer.
type ClickHouseConfig struct {
	// Endpoint is the ClickHouse native protocol address.
	Endpoint string `yaml:"endpoint"`

	// Database is the target database name. Defaults to "pipestat".
	Database string `yaml:"database"`

	// Table is the target table name. Defaults to "summaries".
	Table string `yaml:"table"`

	// Username for ClickHouse authentication.
	Username string `yaml:"username"`

	// Password for ClickHouse authentication.
	Password string `yaml:"password"`

	// DialTimeout bounds connection establishment. Defaults to 10s.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// MaxOpenConns caps the connection pool. Defaults to 5.
	MaxOpenConns int `yaml:"max_open_conns"`

	// MetaClientName identifies this pipestat instance in exported rows.
	MetaClientName string `yaml:"meta_client_name"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *ClickHouseConfig) ApplyDefaults() {
	if c.Database == "" {
		c.Database = "pipestat"
	}

	if c.Table == "" {
		c.Table = "summaries"
	}

	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}

	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 5
	}
}

// QualifiedTable returns the database-qualified table name.
func (c *ClickHouseConfig) QualifiedTable() string {
	return c.Database + "." + c.Table
}

// ClickHouseWriter owns the connection used for summary inserts.
type ClickHouseWriter struct {
	log  logrus.FieldLogger
	cfg  ClickHouseConfig
	conn clickhouse.Conn
}

// NewClickHouseWriter creates a writer; the connection is opened in
// Start.
func NewClickHouseWriter(log logrus.FieldLogger, cfg ClickHouseConfig) *ClickHouseWriter {
	cfg.ApplyDefaults()

	return &ClickHouseWriter{
		log: log.WithField("component", "clickhouse"),
		cfg: cfg,
	}
}

// Start opens and verifies the ClickHouse connection.
func (w *ClickHouseWriter) Start(ctx context.Context) error {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{w.cfg.Endpoint},
		Auth: clickhouse.Auth{
			Database: w.cfg.Database,
			Username: w.cfg.Username,
			Password: w.cfg.Password,
		},
		DialTimeout: w.cfg.DialTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: w.cfg.MaxOpenConns,
		MaxIdleConns: 2,
	})
	if err != nil {
		return fmt.Errorf("opening ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("pinging ClickHouse: %w", err)
	}

	w.conn = conn

	w.log.WithFields(logrus.Fields{
		"endpoint": w.cfg.Endpoint,
		"table":    w.cfg.QualifiedTable(),
	}).Info("ClickHouse writer connected")

	return nil
}

// Conn returns the underlying ClickHouse connection.
func (w *ClickHouseWriter) Conn() clickhouse.Conn {
	return w.conn
}

// Config returns the writer configuration.
func (w *ClickHouseWriter) Config() ClickHouseConfig {
	return w.cfg
}

// Stop closes the ClickHouse connection.
func (w *ClickHouseWriter) Stop() error {
	if w.conn == nil {
		return nil
	}

	return w.conn.Close()
}
