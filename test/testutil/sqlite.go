package testutil

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// CreateTempSQLiteDB opens a SQLite database file in a per-test temporary
// directory. The database is closed when the test finishes.
func CreateTempSQLiteDB(t *testing.T) (*sqlx.DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "questweaver.db")
	db, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}
