package metastore

import (
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"
)

// postgresDialect targets the network SQL backend. Grounded on
// pkg/storage/postgres/connection.go's primary/replica split — this type
// deliberately stays a thin dialect shim so SQLStore's query logic is
// shared rather than duplicated per backend.
type postgresDialect struct{}

func (postgresDialect) Name() string { return "sql" }

func (postgresDialect) Placeholder(argIndex int) string {
	return "$" + strconv.Itoa(argIndex)
}

func (postgresDialect) SchemaMigrationsDDL() string {
	return `CREATE TABLE IF NOT EXISTS schema_migrations (id TEXT PRIMARY KEY, applied_at TIMESTAMP NOT NULL DEFAULT now())`
}

// OpenPostgres opens a connection pool against a postgres-compatible
// network database identified by dsn.
func OpenPostgres(dsn string) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql store: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return NewSQLStore(db, postgresDialect{}, "sql"), nil
}
