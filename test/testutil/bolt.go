package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

// CreateTempBoltDB opens a bbolt database in a per-test temporary directory.
// It returns the database, its path, and a cleanup function that closes it.
func CreateTempBoltDB(t *testing.T) (*bolt.DB, string, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "questweaver.bolt.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)

	cleanup := func() {
		_ = db.Close()
	}
	return db, dbPath, cleanup
}
