package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "jobs.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "db_test_dir")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")

	db, err := NewDB(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestNewDB_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")

	db, err := NewDB(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// CREATE TABLE IF NOT EXISTS must tolerate an existing schema
	db, err = NewDB(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
