package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/repub/registry/pkg/apierr"
)

var tracer = otel.Tracer("repub/metastore")

// SQLStore implements Store over database/sql, parameterized by a Dialect
// so the same query logic serves both the embedded (sqlite) and network
// (postgres) backends. Grounded on pkg/storage/postgres/postgres.go's
// span-wrapped CRUD pattern, generalized to two drivers instead of one.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	typ     string // "embedded" or "sql", surfaced by HealthCheck
}

// NewSQLStore wraps an already-open *sql.DB. Callers are responsible for
// picking the right driver (sqlite3 or postgres) before calling this.
func NewSQLStore(db *sql.DB, dialect Dialect, typ string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, typ: typ}
}

// rebind rewrites a query written with "?" placeholders into the active
// dialect's placeholder syntax, in positional order.
func (s *SQLStore) rebind(query string) string {
	if s.dialect.Placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	argc := 0
	for _, r := range query {
		if r == '?' {
			argc++
			b.WriteString(s.dialect.Placeholder(argc))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) ApplyMigrations(ctx context.Context) error {
	return ApplyMigrations(ctx, s.db, s.dialect, Migrations())
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) HealthCheck(ctx context.Context) (HealthStatus, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return HealthStatus{}, fmt.Errorf("metastore health check failed: %w", err)
	}
	return HealthStatus{Status: "ok", Type: s.typ}, nil
}

// --- Package ops ---

func (s *SQLStore) GetPackage(ctx context.Context, name string) (*Package, error) {
	ctx, span := tracer.Start(ctx, "SQLStore.GetPackage", trace.WithAttributes(attribute.String("package.name", name)))
	defer span.End()

	row := s.queryRow(ctx, `SELECT name, created_at, updated_at, is_discontinued, replaced_by, is_upstream_cache, description
		FROM packages WHERE name = ?`, name)
	p, err := scanPackage(row)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return p, nil
}

func scanPackage(row *sql.Row) (*Package, error) {
	var p Package
	var replacedBy sql.NullString
	if err := row.Scan(&p.Name, &p.CreatedAt, &p.UpdatedAt, &p.IsDiscontinued, &replacedBy, &p.IsUpstreamCache, &p.Description); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.New(apierr.NotFound, "package not found")
		}
		return nil, fmt.Errorf("failed to scan package: %w", err)
	}
	if replacedBy.Valid {
		p.ReplacedBy = &replacedBy.String
	}
	return &p, nil
}

// UpsertPackageVersion is the single atomic unit a publish finish
// transaction needs: create the Package row if missing, enforce the is_upstream_cache
// invariant, and create (or confirm-identical) the PackageVersion row.
// Concurrent upserts for the same (pkg, ver) are serialised by the
// database transaction; a differing sha256 surfaces as Conflict. The
// returned bool reports whether this call actually inserted the version
// row (false for a byte-identical idempotent republish), so callers can
// gate one-time side effects like activity logging and webhook dispatch.
func (s *SQLStore) UpsertPackageVersion(ctx context.Context, pkg Package, version PackageVersion) (*PackageVersion, bool, error) {
	ctx, span := tracer.Start(ctx, "SQLStore.UpsertPackageVersion", trace.WithAttributes(
		attribute.String("package.name", pkg.Name),
		attribute.String("package.version", version.Version),
	))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var existingIsCache sql.NullBool
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT is_upstream_cache FROM packages WHERE name = ?`), pkg.Name).Scan(&existingIsCache)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO packages (name, created_at, updated_at, is_discontinued, is_upstream_cache, description)
			VALUES (?, ?, ?, ?, ?, ?)`), pkg.Name, now, now, false, pkg.IsUpstreamCache, pkg.Description)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create package: %w", err)
		}
	case err != nil:
		return nil, false, fmt.Errorf("failed to look up package: %w", err)
	default:
		if existingIsCache.Valid && existingIsCache.Bool != pkg.IsUpstreamCache {
			err := apierr.New(apierr.Forbidden, "is_upstream_cache may not be toggled after creation")
			span.RecordError(err)
			return nil, false, err
		}
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE packages SET updated_at = ? WHERE name = ?`), now, pkg.Name)
		if err != nil {
			return nil, false, fmt.Errorf("failed to touch package: %w", err)
		}
	}

	var existingSHA sql.NullString
	var existingPublishedAt sql.NullTime
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT archive_sha256, published_at FROM package_versions WHERE package_name = ? AND version = ?`),
		pkg.Name, version.Version).Scan(&existingSHA, &existingPublishedAt)

	pubspecJSON, err2 := json.Marshal(version.Pubspec)
	if err2 != nil {
		return nil, false, fmt.Errorf("failed to marshal pubspec: %w", err2)
	}

	created := false
	switch {
	case err == sql.ErrNoRows:
		id := uuid.NewString()
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO package_versions
			(id, package_name, version, pubspec, archive_key, upstream_archive_url, archive_sha256, published_at, is_retracted, download_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			id, pkg.Name, version.Version, string(pubspecJSON), version.ArchiveKey, version.UpstreamArchiveURL, version.ArchiveSHA256, now, false, 0)
		if err != nil {
			return nil, false, fmt.Errorf("failed to insert package version: %w", err)
		}
		version.PublishedAt = now
		created = true
	case err != nil:
		return nil, false, fmt.Errorf("failed to look up package version: %w", err)
	default:
		if existingSHA.String != version.ArchiveSHA256 {
			err := apierr.New(apierr.Conflict, "version already exists with a different archive")
			return nil, false, err
		}
		// byte-identical republish: idempotent no-op, published_at unchanged.
		if existingPublishedAt.Valid {
			version.PublishedAt = existingPublishedAt.Time
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit upsert: %w", err)
	}

	out := version
	out.PackageName = pkg.Name
	return &out, created, nil
}

func (s *SQLStore) VersionExists(ctx context.Context, pkgName, version string) (bool, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM package_versions WHERE package_name = ? AND version = ?`, pkgName, version).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check version existence: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) GetPackageVersion(ctx context.Context, pkgName, version string) (*PackageVersion, error) {
	row := s.queryRow(ctx, `SELECT package_name, version, pubspec, archive_key, upstream_archive_url, archive_sha256, published_at,
		is_retracted, retracted_at, retraction_message, download_count
		FROM package_versions WHERE package_name = ? AND version = ?`, pkgName, version)
	return scanVersion(row)
}

func scanVersion(row *sql.Row) (*PackageVersion, error) {
	var v PackageVersion
	var pubspecJSON string
	var retractedAt sql.NullTime
	var retractionMessage sql.NullString
	if err := row.Scan(&v.PackageName, &v.Version, &pubspecJSON, &v.ArchiveKey, &v.UpstreamArchiveURL, &v.ArchiveSHA256, &v.PublishedAt,
		&v.IsRetracted, &retractedAt, &retractionMessage, &v.DownloadCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.New(apierr.NotFound, "package version not found")
		}
		return nil, fmt.Errorf("failed to scan package version: %w", err)
	}
	if pubspecJSON != "" {
		if err := json.Unmarshal([]byte(pubspecJSON), &v.Pubspec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pubspec: %w", err)
		}
	}
	if retractedAt.Valid {
		v.RetractedAt = &retractedAt.Time
	}
	if retractionMessage.Valid {
		v.RetractionMessage = &retractionMessage.String
	}
	return &v, nil
}

func (s *SQLStore) GetPackageInfo(ctx context.Context, pkgName string) (*PackageInfo, error) {
	pkg, err := s.GetPackage(ctx, pkgName)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, `SELECT package_name, version, pubspec, archive_key, upstream_archive_url, archive_sha256, published_at,
		is_retracted, retracted_at, retraction_message, download_count
		FROM package_versions WHERE package_name = ? ORDER BY published_at ASC`, pkgName)
	if err != nil {
		return nil, fmt.Errorf("failed to list package versions: %w", err)
	}
	defer rows.Close()

	var versions []PackageVersion
	for rows.Next() {
		var v PackageVersion
		var pubspecJSON string
		var retractedAt sql.NullTime
		var retractionMessage sql.NullString
		if err := rows.Scan(&v.PackageName, &v.Version, &pubspecJSON, &v.ArchiveKey, &v.UpstreamArchiveURL, &v.ArchiveSHA256, &v.PublishedAt,
			&v.IsRetracted, &retractedAt, &retractionMessage, &v.DownloadCount); err != nil {
			return nil, fmt.Errorf("failed to scan package version: %w", err)
		}
		if pubspecJSON != "" {
			json.Unmarshal([]byte(pubspecJSON), &v.Pubspec)
		}
		if retractedAt.Valid {
			v.RetractedAt = &retractedAt.Time
		}
		if retractionMessage.Valid {
			v.RetractionMessage = &retractionMessage.String
		}
		versions = append(versions, v)
	}
	return &PackageInfo{Package: *pkg, Versions: versions}, nil
}

func (s *SQLStore) listPackagesWhere(ctx context.Context, where string, args []interface{}, page, limit int) (Page[Package], error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	var total int64
	countQuery := "SELECT COUNT(*) FROM packages"
	if where != "" {
		countQuery += " WHERE " + where
	}
	if err := s.queryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return Page[Package]{}, fmt.Errorf("failed to count packages: %w", err)
	}

	listQuery := "SELECT name, created_at, updated_at, is_discontinued, replaced_by, is_upstream_cache, description FROM packages"
	if where != "" {
		listQuery += " WHERE " + where
	}
	listQuery += " ORDER BY name ASC LIMIT ? OFFSET ?"
	rows, err := s.query(ctx, listQuery, append(append([]interface{}{}, args...), limit, (page-1)*limit)...)
	if err != nil {
		return Page[Package]{}, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	var items []Package
	for rows.Next() {
		var p Package
		var replacedBy sql.NullString
		if err := rows.Scan(&p.Name, &p.CreatedAt, &p.UpdatedAt, &p.IsDiscontinued, &replacedBy, &p.IsUpstreamCache, &p.Description); err != nil {
			return Page[Package]{}, fmt.Errorf("failed to scan package row: %w", err)
		}
		if replacedBy.Valid {
			p.ReplacedBy = &replacedBy.String
		}
		items = append(items, p)
	}
	return NewPage(items, total, page, limit), nil
}

func (s *SQLStore) ListPackages(ctx context.Context, page, limit int) (Page[Package], error) {
	return s.listPackagesWhere(ctx, "", nil, page, limit)
}

func (s *SQLStore) ListPackagesByType(ctx context.Context, isUpstreamCache bool, page, limit int) (Page[Package], error) {
	return s.listPackagesWhere(ctx, "is_upstream_cache = ?", []interface{}{isUpstreamCache}, page, limit)
}

func (s *SQLStore) SearchPackages(ctx context.Context, query string, page, limit int) (Page[Package], error) {
	like := "%" + strings.ToLower(query) + "%"
	return s.listPackagesWhere(ctx, "LOWER(name) LIKE ?", []interface{}{like}, page, limit)
}

func (s *SQLStore) DeletePackage(ctx context.Context, name string) (int64, error) {
	ctx, span := tracer.Start(ctx, "SQLStore.DeletePackage", trace.WithAttributes(attribute.String("package.name", name)))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM package_versions WHERE package_name = ?`), name)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to delete package versions: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM packages WHERE name = ?`), name); err != nil {
		return 0, fmt.Errorf("failed to delete package: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return deleted, nil
}

func (s *SQLStore) DiscontinuePackage(ctx context.Context, name string, replacedBy *string) error {
	_, err := s.exec(ctx, `UPDATE packages SET is_discontinued = ?, replaced_by = ?, updated_at = ? WHERE name = ?`,
		true, replacedBy, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("failed to discontinue package: %w", err)
	}
	return nil
}

func (s *SQLStore) RetractVersion(ctx context.Context, pkgName, version string, message *string) error {
	res, err := s.exec(ctx, `UPDATE package_versions SET is_retracted = ?, retracted_at = ?, retraction_message = ?
		WHERE package_name = ? AND version = ?`, true, time.Now().UTC(), message, pkgName, version)
	if err != nil {
		return fmt.Errorf("failed to retract version: %w", err)
	}
	return mustAffectOne(res, "package version")
}

func (s *SQLStore) UnretractVersion(ctx context.Context, pkgName, version string) error {
	res, err := s.exec(ctx, `UPDATE package_versions SET is_retracted = ?, retracted_at = NULL, retraction_message = NULL
		WHERE package_name = ? AND version = ?`, false, pkgName, version)
	if err != nil {
		return fmt.Errorf("failed to unretract version: %w", err)
	}
	return mustAffectOne(res, "package version")
}

func (s *SQLStore) IncrementDownloadCount(ctx context.Context, pkgName, version string, delta int64) error {
	_, err := s.exec(ctx, `UPDATE package_versions SET download_count = download_count + ? WHERE package_name = ? AND version = ?`,
		delta, pkgName, version)
	if err != nil {
		return fmt.Errorf("failed to increment download count: %w", err)
	}
	return nil
}

func mustAffectOne(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return apierr.New(apierr.NotFound, entity+" not found")
	}
	return nil
}

// --- User / AdminUser / Token ops ---

func (s *SQLStore) CreateUser(ctx context.Context, u User) (*User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()
	_, err := s.exec(ctx, `INSERT INTO users (id, email, password_hash, is_active, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.IsActive, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &u, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	return scanUser(s.queryRow(ctx, `SELECT id, email, password_hash, is_active, created_at, last_login_at FROM users WHERE id = ?`, id))
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.queryRow(ctx, `SELECT id, email, password_hash, is_active, created_at, last_login_at FROM users WHERE email = ?`, email))
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var lastLogin sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &lastLogin); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.New(apierr.NotFound, "user not found")
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	return &u, nil
}

func (s *SQLStore) ListUsers(ctx context.Context, page, limit int) (Page[User], error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	var total int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return Page[User]{}, fmt.Errorf("failed to count users: %w", err)
	}
	rows, err := s.query(ctx, `SELECT id, email, password_hash, is_active, created_at, last_login_at FROM users ORDER BY created_at ASC LIMIT ? OFFSET ?`,
		limit, (page-1)*limit)
	if err != nil {
		return Page[User]{}, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var items []User
	for rows.Next() {
		var u User
		var lastLogin sql.NullTime
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &lastLogin); err != nil {
			return Page[User]{}, fmt.Errorf("failed to scan user row: %w", err)
		}
		if lastLogin.Valid {
			u.LastLoginAt = &lastLogin.Time
		}
		items = append(items, u)
	}
	return NewPage(items, total, page, limit), nil
}

func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return mustAffectOne(res, "user")
}

func (s *SQLStore) CreateAdminUser(ctx context.Context, a AdminUser) (*AdminUser, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := s.exec(ctx, `INSERT INTO admin_users (id, username, password_hash, login_count, must_change_password, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, a.ID, a.Username, a.PasswordHash, a.LoginCount, a.MustChangePassword, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin user: %w", err)
	}
	return &a, nil
}

func (s *SQLStore) GetAdminUserByUsername(ctx context.Context, username string) (*AdminUser, error) {
	row := s.queryRow(ctx, `SELECT id, username, password_hash, login_count, must_change_password, created_at
		FROM admin_users WHERE username = ?`, username)
	var a AdminUser
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.LoginCount, &a.MustChangePassword, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.New(apierr.NotFound, "admin user not found")
		}
		return nil, fmt.Errorf("failed to scan admin user: %w", err)
	}
	return &a, nil
}

func (s *SQLStore) CreateToken(ctx context.Context, t AuthToken) (*AuthToken, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	scopesJSON, err := json.Marshal(t.Scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scopes: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO auth_tokens (id, user_id, token_hash, label, scopes, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, t.ID, t.UserID, t.TokenHash, t.Label, string(scopesJSON), t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}
	return &t, nil
}

func (s *SQLStore) ListTokens(ctx context.Context, userID string) ([]AuthToken, error) {
	rows, err := s.query(ctx, `SELECT id, user_id, token_hash, label, scopes, expires_at, last_used_at, created_at
		FROM auth_tokens WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()
	var out []AuthToken
	for rows.Next() {
		t, err := scanTokenRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *SQLStore) DeleteToken(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM auth_tokens WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return mustAffectOne(res, "token")
}

func (s *SQLStore) GetTokenByHash(ctx context.Context, hash string) (*AuthToken, error) {
	row := s.queryRow(ctx, `SELECT id, user_id, token_hash, label, scopes, expires_at, last_used_at, created_at
		FROM auth_tokens WHERE token_hash = ?`, hash)
	var t AuthToken
	var scopesJSON string
	var expiresAt, lastUsedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Label, &scopesJSON, &expiresAt, &lastUsedAt, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.New(apierr.Unauthorized, "invalid token")
		}
		return nil, fmt.Errorf("failed to scan token: %w", err)
	}
	json.Unmarshal([]byte(scopesJSON), &t.Scopes)
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		t.LastUsedAt = &lastUsedAt.Time
	}
	return &t, nil
}

func scanTokenRows(rows *sql.Rows) (*AuthToken, error) {
	var t AuthToken
	var scopesJSON string
	var expiresAt, lastUsedAt sql.NullTime
	if err := rows.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Label, &scopesJSON, &expiresAt, &lastUsedAt, &t.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan token row: %w", err)
	}
	json.Unmarshal([]byte(scopesJSON), &t.Scopes)
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		t.LastUsedAt = &lastUsedAt.Time
	}
	return &t, nil
}

func (s *SQLStore) TouchToken(ctx context.Context, hash string, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE auth_tokens SET last_used_at = ? WHERE token_hash = ?`, at, hash)
	if err != nil {
		return fmt.Errorf("failed to touch token: %w", err)
	}
	return nil
}

// --- Upload sessions ---

func (s *SQLStore) CreateUploadSession(ctx context.Context, sess UploadSession) (*UploadSession, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.CreatedAt = time.Now().UTC()
	if sess.State == "" {
		sess.State = UploadSessionOpen
	}
	_, err := s.exec(ctx, `INSERT INTO upload_sessions (id, user_id, state, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, string(sess.State), sess.ExpiresAt, sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload session: %w", err)
	}
	return &sess, nil
}

func (s *SQLStore) GetUploadSession(ctx context.Context, id string) (*UploadSession, error) {
	row := s.queryRow(ctx, `SELECT id, user_id, state, expires_at, created_at FROM upload_sessions WHERE id = ?`, id)
	var sess UploadSession
	var userID sql.NullString
	var state string
	if err := row.Scan(&sess.ID, &userID, &state, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.New(apierr.UploadExpired, "upload session not found")
		}
		return nil, fmt.Errorf("failed to scan upload session: %w", err)
	}
	if userID.Valid {
		sess.UserID = &userID.String
	}
	sess.State = UploadSessionState(state)
	return &sess, nil
}

func (s *SQLStore) CompleteUploadSession(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `UPDATE upload_sessions SET state = ? WHERE id = ?`, string(UploadSessionCompleted), id)
	if err != nil {
		return fmt.Errorf("failed to complete upload session: %w", err)
	}
	return mustAffectOne(res, "upload session")
}

func (s *SQLStore) CleanupExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM upload_sessions WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- Webhooks ---

func (s *SQLStore) CreateWebhook(ctx context.Context, w Webhook) (*Webhook, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.CreatedAt = time.Now().UTC()
	eventsJSON, err := json.Marshal(w.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal events: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO webhooks (id, url, events, secret, is_active, failure_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, w.ID, w.URL, string(eventsJSON), w.Secret, w.IsActive, w.FailureCount, w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}
	return &w, nil
}

func (s *SQLStore) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	return scanWebhook(s.queryRow(ctx, `SELECT id, url, events, secret, is_active, failure_count, last_triggered_at, created_at
		FROM webhooks WHERE id = ?`, id))
}

func scanWebhook(row *sql.Row) (*Webhook, error) {
	var w Webhook
	var eventsJSON string
	var lastTriggered sql.NullTime
	if err := row.Scan(&w.ID, &w.URL, &eventsJSON, &w.Secret, &w.IsActive, &w.FailureCount, &lastTriggered, &w.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.New(apierr.NotFound, "webhook not found")
		}
		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}
	json.Unmarshal([]byte(eventsJSON), &w.Events)
	if lastTriggered.Valid {
		w.LastTriggeredAt = &lastTriggered.Time
	}
	return &w, nil
}

func (s *SQLStore) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	rows, err := s.query(ctx, `SELECT id, url, events, secret, is_active, failure_count, last_triggered_at, created_at FROM webhooks ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()
	var out []Webhook
	for rows.Next() {
		var w Webhook
		var eventsJSON string
		var lastTriggered sql.NullTime
		if err := rows.Scan(&w.ID, &w.URL, &eventsJSON, &w.Secret, &w.IsActive, &w.FailureCount, &lastTriggered, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook row: %w", err)
		}
		json.Unmarshal([]byte(eventsJSON), &w.Events)
		if lastTriggered.Valid {
			w.LastTriggeredAt = &lastTriggered.Time
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *SQLStore) ListActiveWebhooksForEvent(ctx context.Context, eventType string) ([]Webhook, error) {
	all, err := s.ListWebhooks(ctx)
	if err != nil {
		return nil, err
	}
	var out []Webhook
	for _, w := range all {
		if !w.IsActive {
			continue
		}
		for _, e := range w.Events {
			if e == "*" || e == eventType {
				out = append(out, w)
				break
			}
		}
	}
	return out, nil
}

func (s *SQLStore) UpdateWebhook(ctx context.Context, w Webhook) error {
	eventsJSON, err := json.Marshal(w.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	res, err := s.exec(ctx, `UPDATE webhooks SET url = ?, events = ?, secret = ?, is_active = ?, failure_count = ?, last_triggered_at = ?
		WHERE id = ?`, w.URL, string(eventsJSON), w.Secret, w.IsActive, w.FailureCount, w.LastTriggeredAt, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return mustAffectOne(res, "webhook")
}

func (s *SQLStore) DeleteWebhook(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return mustAffectOne(res, "webhook")
}

func (s *SQLStore) RecordWebhookDelivery(ctx context.Context, d WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := s.exec(ctx, `INSERT INTO webhook_deliveries (id, webhook_id, event_type, delivered_at, status_code, duration_ms, error, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, d.ID, d.WebhookID, d.EventType, d.DeliveredAt, d.StatusCode, d.DurationMS, d.Error, d.Success)
	if err != nil {
		return fmt.Errorf("failed to record webhook delivery: %w", err)
	}
	return nil
}

func (s *SQLStore) ListPendingRetries(ctx context.Context) ([]WebhookDelivery, error) {
	rows, err := s.query(ctx, `SELECT id, webhook_id, event_type, delivered_at, status_code, duration_ms, error, success
		FROM webhook_deliveries WHERE success = ? ORDER BY delivered_at ASC LIMIT 500`, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending webhook retries: %w", err)
	}
	defer rows.Close()
	var out []WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		var errMsg sql.NullString
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.DeliveredAt, &d.StatusCode, &d.DurationMS, &errMsg, &d.Success); err != nil {
			return nil, fmt.Errorf("failed to scan webhook delivery row: %w", err)
		}
		if errMsg.Valid {
			d.Error = &errMsg.String
		}
		out = append(out, d)
	}
	return out, nil
}

// --- Activity ---

func (s *SQLStore) LogActivity(ctx context.Context, e ActivityLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal activity metadata: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO activity_log (id, activity_type, actor_type, actor_id, actor_email, target_type, target_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, e.ID, e.ActivityType, e.ActorType, e.ActorID, e.ActorEmail, e.TargetType, e.TargetID, string(metaJSON), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	return nil
}

func (s *SQLStore) GetRecentActivity(ctx context.Context, limit int) ([]ActivityLogEntry, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.query(ctx, `SELECT id, activity_type, actor_type, actor_id, actor_email, target_type, target_id, metadata, created_at
		FROM activity_log ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read activity log: %w", err)
	}
	defer rows.Close()
	var out []ActivityLogEntry
	for rows.Next() {
		var e ActivityLogEntry
		var actorID, actorEmail, targetType, targetID sql.NullString
		var metaJSON string
		if err := rows.Scan(&e.ID, &e.ActivityType, &e.ActorType, &actorID, &actorEmail, &targetType, &targetID, &metaJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		if actorID.Valid {
			e.ActorID = &actorID.String
		}
		if actorEmail.Valid {
			e.ActorEmail = &actorEmail.String
		}
		if targetType.Valid {
			e.TargetType = &targetType.String
		}
		if targetID.Valid {
			e.TargetID = &targetID.String
		}
		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, nil
}

// --- SiteConfig ---

func (s *SQLStore) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.queryRow(ctx, `SELECT value FROM site_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read config key %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLStore) SetConfig(ctx context.Context, key, value string) error {
	if _, err := s.exec(ctx, `DELETE FROM site_config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to clear config key %q: %w", key, err)
	}
	if _, err := s.exec(ctx, `INSERT INTO site_config (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("failed to set config key %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) GetAllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.query(ctx, `SELECT key, value FROM site_config`)
	if err != nil {
		return nil, fmt.Errorf("failed to list config: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		out[k] = v
	}
	return out, nil
}

// --- StorageConfig (staged) ---

// Storage config stage names: a pending document is
// written first, then promoted to active by `storage activate`.
const (
	StoragePending = "pending"
	StorageActive  = "active"
)

func (s *SQLStore) GetStorageConfig(ctx context.Context, stage string) (string, error) {
	var doc string
	err := s.queryRow(ctx, `SELECT document FROM storage_config WHERE stage = ?`, stage).Scan(&doc)
	if err == sql.ErrNoRows {
		return "", apierr.New(apierr.NotFound, "storage config stage not found: "+stage)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read storage config: %w", err)
	}
	return doc, nil
}

func (s *SQLStore) SetStorageConfig(ctx context.Context, stage, jsonDoc string) error {
	if _, err := s.exec(ctx, `DELETE FROM storage_config WHERE stage = ?`, stage); err != nil {
		return fmt.Errorf("failed to clear storage config stage: %w", err)
	}
	if _, err := s.exec(ctx, `INSERT INTO storage_config (stage, document) VALUES (?, ?)`, stage, jsonDoc); err != nil {
		return fmt.Errorf("failed to set storage config: %w", err)
	}
	return nil
}
