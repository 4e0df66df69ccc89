package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Migration is one schema revision.
type Migration struct {
	ID   string
	SQL  string
}

// SplitStatements splits s into trimmed, non-empty statements in source
// order. It respects
// single- and double-quoted strings (with '' as an embedded single quote),
// `--` line comments, and `/* ... */` block comments, and treats runs of
// `;` as a single terminator.
func SplitStatements(s string) []string {
	var stmts []string
	var cur strings.Builder

	runes := []rune(s)
	n := len(runes)
	i := 0

	flush := func() {
		trimmed := strings.TrimSpace(cur.String())
		if trimmed != "" {
			stmts = append(stmts, trimmed)
		}
		cur.Reset()
	}

	for i < n {
		c := runes[i]

		switch {
		case c == '\'':
			cur.WriteRune(c)
			i++
			for i < n {
				cur.WriteRune(runes[i])
				if runes[i] == '\'' {
					i++
					if i < n && runes[i] == '\'' {
						// embedded '' -> literal quote, keep scanning string
						cur.WriteRune(runes[i])
						i++
						continue
					}
					break
				}
				i++
			}
			continue

		case c == '"':
			cur.WriteRune(c)
			i++
			for i < n {
				cur.WriteRune(runes[i])
				if runes[i] == '"' {
					i++
					break
				}
				i++
			}
			continue

		case c == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				cur.WriteRune(runes[i])
				i++
			}
			continue

		case c == '/' && i+1 < n && runes[i+1] == '*':
			cur.WriteRune(runes[i])
			cur.WriteRune(runes[i+1])
			i += 2
			for i < n {
				if runes[i] == '*' && i+1 < n && runes[i+1] == '/' {
					cur.WriteRune(runes[i])
					cur.WriteRune(runes[i+1])
					i += 2
					break
				}
				cur.WriteRune(runes[i])
				i++
			}
			continue

		case c == ';':
			flush()
			// swallow any run of consecutive ';' (and whitespace between
			// them) so that "a;;b" and "a; ;b" both yield two statements.
			for i < n {
				if runes[i] == ';' {
					i++
					continue
				}
				if runes[i] == ' ' || runes[i] == '\t' || runes[i] == '\n' || runes[i] == '\r' {
					// only swallow whitespace that leads to another ';'
					j := i
					for j < n && (runes[j] == ' ' || runes[j] == '\t' || runes[j] == '\n' || runes[j] == '\r') {
						j++
					}
					if j < n && runes[j] == ';' {
						i = j
						continue
					}
				}
				break
			}
			continue

		default:
			cur.WriteRune(c)
			i++
		}
	}
	flush()
	return stmts
}

// JoinStatements rejoins statements with a semicolon separator, the
// inverse of SplitStatements.
func JoinStatements(stmts []string) string {
	return strings.Join(stmts, ";\n")
}

// Dialect abstracts the small amount of SQL that differs between the
// embedded (sqlite) and network (postgres) backends.
type Dialect interface {
	Name() string
	Placeholder(argIndex int) string
	SchemaMigrationsDDL() string
}

// ApplyMigrations creates the schema_migrations table if it is absent,
// compares the applied set against declared, and applies missing IDs
// in order, each inside its own transaction with the multi-statement
// splitter applied. It takes no lock, so two processes running it
// against the same database at the same time are not serialised.
func ApplyMigrations(ctx context.Context, db *sql.DB, dialect Dialect, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, dialect.SchemaMigrationsDDL()); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied := map[string]bool{}
	rows, err := db.QueryContext(ctx, "SELECT id FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration id: %w", err)
		}
		applied[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.ID] {
			continue
		}
		if err := applyOne(ctx, db, dialect, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.ID, err)
		}
	}
	return nil
}

func applyOne(ctx context.Context, db *sql.DB, dialect Dialect, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range SplitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %q: %w", stmt, err)
		}
	}
	insert := "INSERT INTO schema_migrations (id) VALUES (" + dialect.Placeholder(1) + ")"
	if _, err := tx.ExecContext(ctx, insert, m.ID); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
