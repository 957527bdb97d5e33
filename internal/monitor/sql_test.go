package monitor

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseCheckHealthy(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	check := NewDatabaseCheck("postgres", "postgres", "", true)
	check.SetDB(db)
	result := check.Run(context.Background())

	assert.True(t, result.Healthy)
	assert.Equal(t, "postgres", result.Name)
	assert.Contains(t, result.Details, "open_connections")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseCheckPingFails(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	check := NewDatabaseCheck("postgres", "postgres", "", true)
	check.SetDB(db)
	result := check.Run(context.Background())

	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "ping failed")
	// The failure message names the error, never a DSN.
	assert.NotContains(t, result.Message, "password")
}

func TestDatabaseCheckNoDSN(t *testing.T) {
	t.Parallel()

	result := NewDatabaseCheck("postgres", "postgres", "", true).Run(context.Background())

	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "no DSN")
}

func TestDatabaseCheckDefaultDriver(t *testing.T) {
	t.Parallel()

	check := NewDatabaseCheck("db", "", "host=localhost", false)
	assert.Equal(t, "postgres", check.driver)
}
