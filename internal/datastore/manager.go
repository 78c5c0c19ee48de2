// Package datastore opens the GORM database backing rules, device access and
// triggered alert history.
package datastore

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fieldsense/alertd/internal/conf"
	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/errors"
	"github.com/fieldsense/alertd/internal/logger"
)

// Manager owns the database connection.
type Manager struct {
	db     *gorm.DB
	driver string
	log    logger.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(settings conf.DatastoreSettings, log logger.Logger) (*Manager, error) {
	dialector, err := dialectorFor(settings)
	if err != nil {
		return nil, err
	}

	log = log.Module("datastore").With(logger.String("driver", settings.Driver))

	level := gormlogger.Warn
	if settings.Debug {
		level = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(&logAdapter{log: log}, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	})
	if err != nil {
		return nil, errors.Wrap(errors.CategoryConfiguration, "open datastore", err)
	}

	if settings.Driver == conf.DriverSQLite {
		// One connection: SQLite serialises writers and in-memory databases
		// are per connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	m := &Manager{db: db, driver: settings.Driver, log: log}
	if err := m.Migrate(); err != nil {
		_ = m.Close()
		return nil, err
	}
	log.Info("datastore ready")
	return m, nil
}

// NewManager wraps an existing connection, for tests.
func NewManager(db *gorm.DB, log logger.Logger) *Manager {
	return &Manager{db: db, driver: db.Dialector.Name(), log: log}
}

func dialectorFor(settings conf.DatastoreSettings) (gorm.Dialector, error) {
	switch settings.Driver {
	case conf.DriverSQLite:
		return sqlite.Open(settings.DSN), nil
	case conf.DriverMySQL:
		return mysql.Open(settings.DSN), nil
	case conf.DriverPostgres:
		return postgres.Open(settings.DSN), nil
	default:
		return nil, errors.Newf(errors.CategoryConfiguration, "open datastore", "unsupported driver %q", settings.Driver)
	}
}

// Migrate creates or updates every table.
func (m *Manager) Migrate() error {
	if err := m.db.AutoMigrate(entities.All()...); err != nil {
		return fmt.Errorf("failed to migrate datastore: %w", err)
	}
	return nil
}

// DB returns the GORM handle for repositories.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Driver returns the configured driver name.
func (m *Manager) Driver() string {
	return m.driver
}

// Close releases the underlying connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// logAdapter forwards GORM's printf-style output to the service logger.
type logAdapter struct {
	log logger.Logger
}

func (a *logAdapter) Printf(format string, args ...any) {
	a.log.Info(fmt.Sprintf(format, args...))
}
