package migration

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTempSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestMigrator_UpDownSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")
	db, err := sql.Open("sqlite3", "file:"+path)
	require.NoError(t, err)

	m, err := New(DialectSQLite, db, zaptest.NewLogger(t))
	require.NoError(t, err)

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up())
	require.NoError(t, m.Up(), "second Up is a no-op")

	version, dirty, err = m.Version()
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)
	assert.False(t, dirty)

	check, err := sql.Open("sqlite3", "file:"+path)
	require.NoError(t, err)
	defer check.Close()
	assert.True(t, tableExists(t, check, "cache_records"))
	assert.True(t, tableExists(t, check, "pending_operations"))
	assert.True(t, tableExists(t, check, "store_meta"))

	require.NoError(t, m.Down())
	assert.False(t, tableExists(t, check, "cache_records"))
	assert.False(t, tableExists(t, check, "pending_operations"))

	require.NoError(t, m.Force(1))
	version, _, err = m.Version()
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	require.NoError(t, m.Close())
}

func TestNew_UnsupportedDialect(t *testing.T) {
	db := openTempSQLite(t)
	defer db.Close()

	_, err := New(Dialect("mysql"), db, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "unsupported migration dialect")
}
