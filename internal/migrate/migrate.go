// Package migrate manages the ClickHouse schema for the summaries
// table.
package migrate

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	gomigrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/clickhouse" // ClickHouse driver.
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var migrations embed.FS

// Migrator applies schema migrations against a ClickHouse DSN, e.g.
// "clickhouse://host:9000/pipestat".
type Migrator struct {
	log logrus.FieldLogger
	dsn string
}

// New creates a Migrator.
func New(log logrus.FieldLogger, dsn string) *Migrator {
	return &Migrator{
		log: log.WithField("component", "migrate"),
		dsn: dsn,
	}
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	return m.withMigrate(func(mig *gomigrate.Migrate) error {
		m.log.Info("Applying migrations")

		if err := mig.Up(); err != nil && !errors.Is(err, gomigrate.ErrNoChange) {
			return fmt.Errorf("applying migrations: %w", err)
		}

		v, _, _ := mig.Version()
		m.log.WithField("version", v).Info("Schema up to date")

		return nil
	})
}

// Down rolls back the most recent migration.
func (m *Migrator) Down() error {
	return m.withMigrate(func(mig *gomigrate.Migrate) error {
		m.log.Info("Rolling back one migration")

		if err := mig.Steps(-1); err != nil && !errors.Is(err, gomigrate.ErrNoChange) {
			return fmt.Errorf("rolling back migration: %w", err)
		}

		return nil
	})
}

// Status returns the current migration version.
func (m *Migrator) Status() (version uint, dirty bool, err error) {
	err = m.withMigrate(func(mig *gomigrate.Migrate) error {
		v, d, verr := mig.Version()
		if verr != nil && !errors.Is(verr, gomigrate.ErrNilVersion) {
			return fmt.Errorf("reading migration version: %w", verr)
		}

		version, dirty = v, d

		return nil
	})

	return version, dirty, err
}

// withMigrate opens a migrate instance around fn and closes it after.
func (m *Migrator) withMigrate(fn func(*gomigrate.Migrate) error) error {
	source, err := iofs.New(migrations, "sql")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	mig, err := gomigrate.NewWithSourceInstance("iofs", source, multiStatementDSN(m.dsn))
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	defer mig.Close()

	return fn(mig)
}

// multiStatementDSN makes sure the ClickHouse driver accepts migration
// files containing more than one DDL statement.
func multiStatementDSN(dsn string) string {
	if strings.Contains(dsn, "x-multi-statement") {
		return dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	return dsn + sep + "x-multi-statement=true"
}
