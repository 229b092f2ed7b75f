package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestUpAndDownOnSqlite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "migrate.db")

	require.NoError(t, Up(ctx, "sqlite", dsn))
	require.NoError(t, Up(ctx, "sqlite", dsn), "second run has nothing to apply")

	db, err := openDB("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, tableExists(t, db, "water_readings"))
	assert.True(t, tableExists(t, db, "scheduled_jobs"))

	require.NoError(t, Down(ctx, "sqlite", dsn))
	assert.True(t, tableExists(t, db, "monthly_bills"))
	assert.False(t, tableExists(t, db, "scheduled_jobs"))
}

func TestUnsupportedDriver(t *testing.T) {
	err := Up(context.Background(), "mysql", "x")
	assert.Error(t, err)
	assert.Equal(t, "migrations/postgres", getMigrationDir("postgrespool"))
	assert.Equal(t, "migrations/sqlite", getMigrationDir("sqlite"))
}
