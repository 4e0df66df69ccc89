package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func newImportID() string { return uuid.NewString() }

// BackupFormatVersion is the current backup document format.
const BackupFormatVersion = 1

// BackupDocument is the single-file backup/restore payload. Blobs are
// never included; they are the operator's responsibility.
type BackupDocument struct {
	FormatVersion int        `json:"formatVersion"`
	CreatedAt     string     `json:"createdAt"`
	DatabaseType  string     `json:"databaseType"`
	Data          BackupData `json:"data"`
}

// BackupData holds the exported rows for every persistent table that
// backup/restore covers.
type BackupData struct {
	Packages        []Package          `json:"packages"`
	PackageVersions []PackageVersion   `json:"packageVersions"`
	Users           []User             `json:"users"`
	AdminUsers      []AdminUser        `json:"adminUsers"`
	AuthTokens      []AuthToken        `json:"authTokens"`
	ActivityLog     []ActivityLogEntry `json:"activityLog"`
}

// ImportCounts reports how many entries of each kind the imported
// document carries, for a dry run and a real import alike. Entries
// skipped because a matching row already exists are counted too.
type ImportCounts struct {
	Packages        int `json:"packages"`
	PackageVersions int `json:"packageVersions"`
	Users           int `json:"users"`
	AdminUsers      int `json:"adminUsers"`
	AuthTokens      int `json:"authTokens"`
	ActivityLog     int `json:"activityLog"`
}

func (s *SQLStore) Export(ctx context.Context) (*BackupDocument, error) {
	packages, err := s.exportPackages(ctx)
	if err != nil {
		return nil, err
	}
	versions, err := s.exportPackageVersions(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.exportUsers(ctx)
	if err != nil {
		return nil, err
	}
	admins, err := s.exportAdminUsers(ctx)
	if err != nil {
		return nil, err
	}
	tokens, err := s.exportAuthTokens(ctx)
	if err != nil {
		return nil, err
	}
	activity, err := s.GetRecentActivity(ctx, 1<<30)
	if err != nil {
		return nil, err
	}

	return &BackupDocument{
		FormatVersion: BackupFormatVersion,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		DatabaseType:  s.typ,
		Data: BackupData{
			Packages:        packages,
			PackageVersions: versions,
			Users:           users,
			AdminUsers:      admins,
			AuthTokens:      tokens,
			ActivityLog:     activity,
		},
	}, nil
}

func (s *SQLStore) exportPackages(ctx context.Context) ([]Package, error) {
	rows, err := s.query(ctx, `SELECT name, created_at, updated_at, is_discontinued, replaced_by, is_upstream_cache, description FROM packages`)
	if err != nil {
		return nil, fmt.Errorf("failed to export packages: %w", err)
	}
	defer rows.Close()
	var out []Package
	for rows.Next() {
		var p Package
		var replacedBy sql.NullString
		if err := rows.Scan(&p.Name, &p.CreatedAt, &p.UpdatedAt, &p.IsDiscontinued, &replacedBy, &p.IsUpstreamCache, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan package for export: %w", err)
		}
		if replacedBy.Valid {
			p.ReplacedBy = &replacedBy.String
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SQLStore) exportPackageVersions(ctx context.Context) ([]PackageVersion, error) {
	rows, err := s.query(ctx, `SELECT package_name, version, pubspec, archive_key, upstream_archive_url, archive_sha256, published_at,
		is_retracted, retracted_at, retraction_message, download_count FROM package_versions`)
	if err != nil {
		return nil, fmt.Errorf("failed to export package versions: %w", err)
	}
	defer rows.Close()
	var out []PackageVersion
	for rows.Next() {
		var v PackageVersion
		var pubspecJSON string
		var retractedAt sql.NullTime
		var retractionMessage sql.NullString
		if err := rows.Scan(&v.PackageName, &v.Version, &pubspecJSON, &v.ArchiveKey, &v.UpstreamArchiveURL, &v.ArchiveSHA256, &v.PublishedAt,
			&v.IsRetracted, &retractedAt, &retractionMessage, &v.DownloadCount); err != nil {
			return nil, fmt.Errorf("failed to scan package version for export: %w", err)
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
		out = append(out, v)
	}
	return out, nil
}

func (s *SQLStore) exportUsers(ctx context.Context) ([]User, error) {
	rows, err := s.query(ctx, `SELECT id, email, password_hash, is_active, created_at, last_login_at FROM users`)
	if err != nil {
		return nil, fmt.Errorf("failed to export users: %w", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var u User
		var lastLogin sql.NullTime
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &lastLogin); err != nil {
			return nil, fmt.Errorf("failed to scan user for export: %w", err)
		}
		if lastLogin.Valid {
			u.LastLoginAt = &lastLogin.Time
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *SQLStore) exportAdminUsers(ctx context.Context) ([]AdminUser, error) {
	rows, err := s.query(ctx, `SELECT id, username, password_hash, login_count, must_change_password, created_at FROM admin_users`)
	if err != nil {
		return nil, fmt.Errorf("failed to export admin users: %w", err)
	}
	defer rows.Close()
	var out []AdminUser
	for rows.Next() {
		var a AdminUser
		if err := rows.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.LoginCount, &a.MustChangePassword, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan admin user for export: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLStore) exportAuthTokens(ctx context.Context) ([]AuthToken, error) {
	rows, err := s.query(ctx, `SELECT id, user_id, token_hash, label, scopes, expires_at, last_used_at, created_at FROM auth_tokens`)
	if err != nil {
		return nil, fmt.Errorf("failed to export auth tokens: %w", err)
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

// Import loads doc's rows into the store. Existing rows with the same
// primary key are left untouched (import is additive, matching the
// operator workflow of restoring into a fresh instance). Refuses
// doc.FormatVersion greater than the version this build understands.
// dryRun returns counts without writing anything.
func (s *SQLStore) Import(ctx context.Context, doc *BackupDocument, dryRun bool) (ImportCounts, error) {
	if doc.FormatVersion > BackupFormatVersion {
		return ImportCounts{}, fmt.Errorf("backup format version %d is newer than supported version %d", doc.FormatVersion, BackupFormatVersion)
	}

	counts := ImportCounts{
		Packages:        len(doc.Data.Packages),
		PackageVersions: len(doc.Data.PackageVersions),
		Users:           len(doc.Data.Users),
		AdminUsers:      len(doc.Data.AdminUsers),
		AuthTokens:      len(doc.Data.AuthTokens),
		ActivityLog:     len(doc.Data.ActivityLog),
	}
	if dryRun {
		return counts, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ImportCounts{}, fmt.Errorf("failed to begin import transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range doc.Data.Packages {
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO packages (name, created_at, updated_at, is_discontinued, replaced_by, is_upstream_cache, description)
			SELECT ?, ?, ?, ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM packages WHERE name = ?)`),
			p.Name, p.CreatedAt, p.UpdatedAt, p.IsDiscontinued, p.ReplacedBy, p.IsUpstreamCache, p.Description, p.Name); err != nil {
			return ImportCounts{}, fmt.Errorf("failed to import package %q: %w", p.Name, err)
		}
	}
	for _, v := range doc.Data.PackageVersions {
		pubspecJSON, _ := json.Marshal(v.Pubspec)
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO package_versions
			(id, package_name, version, pubspec, archive_key, upstream_archive_url, archive_sha256, published_at, is_retracted, retracted_at, retraction_message, download_count)
			SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
			WHERE NOT EXISTS (SELECT 1 FROM package_versions WHERE package_name = ? AND version = ?)`),
			newImportID(), v.PackageName, v.Version, string(pubspecJSON), v.ArchiveKey, v.UpstreamArchiveURL, v.ArchiveSHA256, v.PublishedAt,
			v.IsRetracted, v.RetractedAt, v.RetractionMessage, v.DownloadCount, v.PackageName, v.Version); err != nil {
			return ImportCounts{}, fmt.Errorf("failed to import package version %s@%s: %w", v.PackageName, v.Version, err)
		}
	}
	for _, u := range doc.Data.Users {
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO users (id, email, password_hash, is_active, created_at, last_login_at)
			SELECT ?, ?, ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM users WHERE id = ?)`),
			u.ID, u.Email, u.PasswordHash, u.IsActive, u.CreatedAt, u.LastLoginAt, u.ID); err != nil {
			return ImportCounts{}, fmt.Errorf("failed to import user %q: %w", u.Email, err)
		}
	}
	for _, a := range doc.Data.AdminUsers {
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO admin_users (id, username, password_hash, login_count, must_change_password, created_at)
			SELECT ?, ?, ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM admin_users WHERE id = ?)`),
			a.ID, a.Username, a.PasswordHash, a.LoginCount, a.MustChangePassword, a.CreatedAt, a.ID); err != nil {
			return ImportCounts{}, fmt.Errorf("failed to import admin user %q: %w", a.Username, err)
		}
	}
	for _, t := range doc.Data.AuthTokens {
		scopesJSON, _ := json.Marshal(t.Scopes)
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO auth_tokens (id, user_id, token_hash, label, scopes, expires_at, last_used_at, created_at)
			SELECT ?, ?, ?, ?, ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM auth_tokens WHERE id = ?)`),
			t.ID, t.UserID, t.TokenHash, t.Label, string(scopesJSON), t.ExpiresAt, t.LastUsedAt, t.CreatedAt, t.ID); err != nil {
			return ImportCounts{}, fmt.Errorf("failed to import auth token %q: %w", t.Label, err)
		}
	}
	for _, e := range doc.Data.ActivityLog {
		metaJSON, _ := json.Marshal(e.Metadata)
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO activity_log (id, activity_type, actor_type, actor_id, actor_email, target_type, target_id, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			newImportID(), e.ActivityType, e.ActorType, e.ActorID, e.ActorEmail, e.TargetType, e.TargetID, string(metaJSON), e.CreatedAt); err != nil {
			return ImportCounts{}, fmt.Errorf("failed to import activity entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ImportCounts{}, fmt.Errorf("failed to commit import: %w", err)
	}
	return counts, nil
}
