package testutil

import (
	"path/filepath"
	"testing"

	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/require"
)

// CreateTempChromemGoClient returns a fresh in-memory chromem-go database.
// The cleanup function is a no-op; the instance is garbage collected.
func CreateTempChromemGoClient(t *testing.T) (*chromem.DB, func()) {
	t.Helper()
	return chromem.NewDB(), func() {}
}

// CreatePersistentChromemGoClient opens a chromem-go database persisted under
// a per-test temporary directory and returns it with its path.
func CreatePersistentChromemGoClient(t *testing.T) (*chromem.DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chromem")
	db, err := chromem.NewPersistentDB(path, false)
	require.NoError(t, err)
	return db, path
}
