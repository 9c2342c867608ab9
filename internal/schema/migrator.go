// Package schema owns the warehouse objects snowpulse writes to: embedded
// migrations for the COMMON and RAW tables, and a check that they exist.
package schema

import (
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/snowflake"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"snowpulse/internal/observability"
	"snowpulse/pkg/errors"
)

// Each file holds exactly one statement; the driver executes a file as a
// single request.
//
//go:embed migrations/*.sql
var migrationFS embed.FS

// Source returns the embedded migrations as a golang-migrate source
func Source() (source.Driver, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMigration, "Failed to open embedded migrations")
	}
	return src, nil
}

// Migrator applies the embedded migrations to Snowflake
type Migrator struct {
	migrate *migrate.Migrate
	logger  *observability.Logger
}

// NewMigrator builds a migrator on an open warehouse connection. The
// migration history table lives in the connection's current schema.
func NewMigrator(db *sql.DB, logger *observability.Logger) (*Migrator, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger = logger.WithField("component", "migrate")

	driver, err := snowflake.WithInstance(db, &snowflake.Config{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMigration, "Failed to create snowflake migration driver")
	}
	src, err := Source()
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithInstance("iofs", src, "snowflake", driver)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMigration, "Failed to create migrator")
	}
	m.Log = migrateLogger{logger}

	return &Migrator{migrate: m, logger: logger}, nil
}

// Up runs all pending migrations
func (m *Migrator) Up() error {
	if err := m.migrate.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, errors.ErrCodeMigration, "Failed to run migrations")
	}
	m.logger.Info("Migrations applied")
	return nil
}

// Down rolls back the given number of migrations, all of them when steps <= 0
func (m *Migrator) Down(steps int) error {
	var err error
	if steps > 0 {
		err = m.migrate.Steps(-steps)
	} else {
		err = m.migrate.Down()
	}
	if err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, errors.ErrCodeMigration, "Failed to roll back migrations").
			WithContext("steps", steps)
	}
	m.logger.WithField("steps", steps).Info("Migrations rolled back")
	return nil
}

// Version returns the applied version. A dirty database is reported as an error.
func (m *Migrator) Version() (uint, error) {
	version, dirty, err := m.migrate.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeMigration, "Failed to read migration version")
	}
	if dirty {
		return version, errors.New(errors.ErrCodeMigration, fmt.Sprintf("Database is dirty at version %d", version)).
			WithSuggestions("Fix the failed statement by hand, then run 'snowpulse migrate force <version>'")
	}
	return version, nil
}

// Force sets the version without running migrations
func (m *Migrator) Force(version int) error {
	if err := m.migrate.Force(version); err != nil {
		return errors.Wrap(err, errors.ErrCodeMigration, "Failed to force migration version").
			WithContext("version", version)
	}
	m.logger.WithField("version", version).Info("Forced migration version")
	return nil
}

// Close releases the source and the driver connection
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return stderrors.Join(srcErr, dbErr)
}

type migrateLogger struct {
	logger *observability.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debugf(format, v...)
}

func (l migrateLogger) Verbose() bool {
	return false
}
