package datastore

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsense/alertd/internal/conf"
	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/errors"
	"github.com/fieldsense/alertd/internal/logger"
)

func TestOpen_SQLiteMigrates(t *testing.T) {
	t.Parallel()

	m, err := Open(conf.DatastoreSettings{
		Driver: conf.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "alertd.db"),
	}, logger.NewZerologLogger(io.Discard, logger.LogLevelError, nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	assert.Equal(t, conf.DriverSQLite, m.Driver())
	for _, table := range []any{
		&entities.AlertRule{},
		&entities.TriggeredAlert{},
		&entities.AlertDelivery{},
		&entities.Device{},
		&entities.DeviceShare{},
	} {
		assert.True(t, m.DB().Migrator().HasTable(table))
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(conf.DatastoreSettings{Driver: "oracle", DSN: "x"},
		logger.NewZerologLogger(io.Discard, logger.LogLevelError, nil))
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
}
