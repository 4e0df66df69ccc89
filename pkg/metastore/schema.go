package metastore

// Migrations returns the declared schema revisions in order. The DDL is
// written to be portable across both backends (text/integer/boolean/
// timestamp columns, application-generated ids) rather than relying on
// per-dialect syntax such as SERIAL or AUTOINCREMENT.
func Migrations() []Migration {
	return []Migration{
		{ID: "0001_packages", SQL: `
			CREATE TABLE IF NOT EXISTS packages (
				name TEXT PRIMARY KEY,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				is_discontinued BOOLEAN NOT NULL DEFAULT FALSE,
				replaced_by TEXT,
				is_upstream_cache BOOLEAN NOT NULL DEFAULT FALSE,
				description TEXT NOT NULL DEFAULT ''
			);
		`},
		{ID: "0002_package_versions", SQL: `
			CREATE TABLE IF NOT EXISTS package_versions (
				id TEXT PRIMARY KEY,
				package_name TEXT NOT NULL REFERENCES packages(name) ON DELETE CASCADE,
				version TEXT NOT NULL,
				pubspec TEXT NOT NULL,
				archive_key TEXT NOT NULL,
				archive_sha256 TEXT NOT NULL,
				published_at TIMESTAMP NOT NULL,
				is_retracted BOOLEAN NOT NULL DEFAULT FALSE,
				retracted_at TIMESTAMP,
				retraction_message TEXT,
				download_count INTEGER NOT NULL DEFAULT 0,
				UNIQUE (package_name, version)
			);
			CREATE INDEX IF NOT EXISTS idx_package_versions_package ON package_versions(package_name);
		`},
		{ID: "0003_users", SQL: `
			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP NOT NULL,
				last_login_at TIMESTAMP
			);
			CREATE TABLE IF NOT EXISTS admin_users (
				id TEXT PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				login_count INTEGER NOT NULL DEFAULT 0,
				must_change_password BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP NOT NULL
			);
		`},
		{ID: "0004_auth_tokens", SQL: `
			CREATE TABLE IF NOT EXISTS auth_tokens (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				token_hash TEXT NOT NULL UNIQUE,
				label TEXT NOT NULL,
				scopes TEXT NOT NULL,
				expires_at TIMESTAMP,
				last_used_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL,
				UNIQUE (user_id, label)
			);
		`},
		{ID: "0005_upload_sessions", SQL: `
			CREATE TABLE IF NOT EXISTS upload_sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT,
				state TEXT NOT NULL,
				expires_at TIMESTAMP NOT NULL,
				created_at TIMESTAMP NOT NULL
			);
		`},
		{ID: "0006_webhooks", SQL: `
			CREATE TABLE IF NOT EXISTS webhooks (
				id TEXT PRIMARY KEY,
				url TEXT NOT NULL,
				events TEXT NOT NULL,
				secret TEXT NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				failure_count INTEGER NOT NULL DEFAULT 0,
				last_triggered_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL
			);
			CREATE TABLE IF NOT EXISTS webhook_deliveries (
				id TEXT PRIMARY KEY,
				webhook_id TEXT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
				event_type TEXT NOT NULL,
				delivered_at TIMESTAMP NOT NULL,
				status_code INTEGER NOT NULL,
				duration_ms INTEGER NOT NULL,
				error TEXT,
				success BOOLEAN NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook ON webhook_deliveries(webhook_id);
		`},
		{ID: "0007_activity_log", SQL: `
			CREATE TABLE IF NOT EXISTS activity_log (
				id TEXT PRIMARY KEY,
				activity_type TEXT NOT NULL,
				actor_type TEXT NOT NULL,
				actor_id TEXT,
				actor_email TEXT,
				target_type TEXT,
				target_id TEXT,
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at TIMESTAMP NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_activity_log_created_at ON activity_log(created_at DESC);
		`},
		{ID: "0008_config", SQL: `
			CREATE TABLE IF NOT EXISTS site_config (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);
			CREATE TABLE IF NOT EXISTS storage_config (
				stage TEXT PRIMARY KEY,
				document TEXT NOT NULL
			);
		`},
		{ID: "0009_upstream_archive_url", SQL: `
			ALTER TABLE package_versions ADD COLUMN upstream_archive_url TEXT NOT NULL DEFAULT '';
		`},
	}
}
