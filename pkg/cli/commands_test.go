package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// clearRepubEnv unsets every REPUB_-prefixed variable for the duration
// of the test, restoring prior values afterward.
func clearRepubEnv(t *testing.T) {
	t.Helper()
	var saved []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "REPUB_") {
			saved = append(saved, kv)
			key := strings.SplitN(kv, "=", 2)[0]
			os.Unsetenv(key)
		}
	}
	t.Cleanup(func() {
		for _, kv := range saved {
			parts := strings.SplitN(kv, "=", 2)
			os.Setenv(parts[0], parts[1])
		}
	})
}

// withInMemoryStore points REPUB_DATABASE_URL at a fresh temp-file
// sqlite database for the test. A real :memory: URL would hand each
// openStore call in the same test a brand new, empty database, since
// every command opens and closes its own store.
func withInMemoryStore(t *testing.T) {
	t.Helper()
	clearRepubEnv(t)
	path := filepath.Join(t.TempDir(), "repub-test.db")
	os.Setenv("REPUB_DATABASE_URL", "sqlite://"+path)
}

func TestRunMigrateAppliesMigrations(t *testing.T) {
	withInMemoryStore(t)
	require.NoError(t, runMigrate(nil))
}

func TestRunTokenCreateRequiresEmail(t *testing.T) {
	withInMemoryStore(t)
	err := runTokenCreate(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "--email is required")
}

func TestRunTokenListRequiresEmail(t *testing.T) {
	withInMemoryStore(t)
	err := runTokenList(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "--email is required")
}

func TestRunTokenDeleteRequiresID(t *testing.T) {
	withInMemoryStore(t)
	err := runTokenDelete(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "--id is required")
}

func TestRunStorageActivateRefusesWithoutPendingConfig(t *testing.T) {
	withInMemoryStore(t)
	require.NoError(t, runMigrate(nil))

	err := runStorageActivate(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no pending storage config")
}

func TestRunStorageActivateRefusesWhileLockHeld(t *testing.T) {
	withInMemoryStore(t)

	release, err := acquireServeLock()
	require.NoError(t, err)
	defer release()

	err = runStorageActivate(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "appears to be running")
}

func TestBackupExportImportRoundTrip(t *testing.T) {
	withInMemoryStore(t)
	require.NoError(t, runMigrate(nil))

	path := filepath.Join(t.TempDir(), "backup.json")
	require.NoError(t, runBackupExport(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "\"formatVersion\": 1")

	require.NoError(t, runBackupImport(path, true))
	require.NoError(t, runBackupImport(path, false))
}
