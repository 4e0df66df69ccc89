package metastore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteDialect targets the embedded single-file backend.
type sqliteDialect struct{}

func (sqliteDialect) Name() string              { return "embedded" }
func (sqliteDialect) Placeholder(int) string    { return "?" }
func (sqliteDialect) SchemaMigrationsDDL() string {
	return `CREATE TABLE IF NOT EXISTS schema_migrations (id TEXT PRIMARY KEY, applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP)`
}

// OpenEmbedded opens (creating if absent) a single-file sqlite database at
// path and returns a Store backed by it. Grounded on pkg/storage/filesystem.go's
// single-file-per-instance model, generalized to a real transactional store
// instead of one JSON file per entity.
func OpenEmbedded(path string) (Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded store: %w", err)
	}
	// sqlite3 serializes writers internally; a single connection avoids
	// "database is locked" errors under concurrent access from this process.
	db.SetMaxOpenConns(1)
	return NewSQLStore(db, sqliteDialect{}, "embedded"), nil
}
