package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/admit/internal/config"
	"github.com/turtacn/admit/pkg/logger"
)

func TestDBConnection_SQLite(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "admit.db"),
		MaxOpenConns: 1,
	}
	conn, err := NewDBConnection(context.Background(), cfg, logger.NewNopLogger())
	require.NoError(t, err)

	health, err := conn.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "sqlite", health["driver"])
	assert.NotNil(t, conn.DB())
	assert.NoError(t, conn.Close())
}

func TestDBConnection_UnknownDriver(t *testing.T) {
	_, err := NewDBConnection(context.Background(), &config.DatabaseConfig{Driver: "oracle"}, logger.NewNopLogger())
	assert.Error(t, err)

	_, err = NewDBConnection(context.Background(), nil, logger.NewNopLogger())
	assert.Error(t, err)
}
