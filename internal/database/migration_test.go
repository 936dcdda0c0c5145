package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"keyboard-service/internal/config"
)

// TestMigrator_UpDown needs a disposable database reachable through the
// KEYBOARD_SERVICE_DATABASE_* settings. Set KEYBOARD_SERVICE_TEST_DATABASE=1 to run it.
func TestMigrator_UpDown(t *testing.T) {
	if os.Getenv("KEYBOARD_SERVICE_TEST_DATABASE") == "" {
		t.Skip("KEYBOARD_SERVICE_TEST_DATABASE not set")
	}

	cfg, err := config.Load("")
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)

	db, err := Connect(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer db.Close()

	m := NewMigrator(db, logger)
	require.NoError(t, m.Up())
	require.NoError(t, m.Up(), "up is idempotent")
	require.NoError(t, db.Health(context.Background()), "the pool survives the migrator")

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, m.Down())
	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, m.Up())
}
