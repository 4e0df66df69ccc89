// Package metastore defines the transactional metadata contract shared by
// the embedded (sqlite) and network SQL (postgres) backends.
// Both backends implement Store identically; callers must not assume which
// is active.
package metastore

import (
	"context"
	"time"
)

// Package is a published package's top-level row.
type Package struct {
	Name            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	IsDiscontinued  bool
	ReplacedBy      *string
	IsUpstreamCache bool
	Description     string
}

// PackageVersion is the PackageVersion row.
type PackageVersion struct {
	PackageName string
	Version     string
	Pubspec     map[string]interface{}
	ArchiveKey  string
	// UpstreamArchiveURL is the archive_url an upstream advertised for
	// this version, when this row was populated from a proxy-cache
	// refresh. Empty for locally-published versions, which are always
	// served from ArchiveKey instead.
	UpstreamArchiveURL string
	ArchiveSHA256      string
	PublishedAt        time.Time
	IsRetracted        bool
	RetractedAt        *time.Time
	RetractionMessage  *string
	DownloadCount      int64
}

// PackageInfo bundles a Package with its versions for resolution responses.
type PackageInfo struct {
	Package  Package
	Versions []PackageVersion
}

// User is a registry end user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// AdminUser is a console operator, distinct namespace from User.
type AdminUser struct {
	ID                 string
	Username           string
	PasswordHash       string
	LoginCount         int64
	MustChangePassword bool
	CreatedAt          time.Time
}

// AuthToken is an opaque bearer token record (hash only; see pkg/auth).
type AuthToken struct {
	ID          string
	UserID      string
	TokenHash   string
	Label       string
	Scopes      []string
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

// UploadSessionState is the lifecycle state of an UploadSession.
type UploadSessionState string

const (
	UploadSessionOpen      UploadSessionState = "open"
	UploadSessionCompleted UploadSessionState = "completed"
	UploadSessionExpired   UploadSessionState = "expired"
)

// UploadSession tracks the two-step publish protocol: session, then upload/finish.
type UploadSession struct {
	ID        string
	UserID    *string
	State     UploadSessionState
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Webhook is a registered delivery target.
type Webhook struct {
	ID              string
	URL             string
	Events          []string
	Secret          string
	IsActive        bool
	FailureCount    int
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
}

// WebhookDelivery records a single delivery attempt.
type WebhookDelivery struct {
	ID         string
	WebhookID  string
	EventType  string
	DeliveredAt time.Time
	StatusCode int
	DurationMS int64
	Error      *string
	Success    bool
}

// ActivityLogEntry is an append-only audit row.
type ActivityLogEntry struct {
	ID           string
	ActivityType string
	ActorType    string
	ActorID      *string
	ActorEmail   *string
	TargetType   *string
	TargetID     *string
	Metadata     map[string]interface{}
	CreatedAt    time.Time
}

// Page is a generic paginated result envelope.
type Page[T any] struct {
	Items        []T
	Total        int64
	PageNum      int
	Limit        int
	TotalPages   int
	HasPrevPage  bool
	HasNextPage  bool
}

// NewPage constructs a Page with the derived pagination fields.
func NewPage[T any](items []T, total int64, page, limit int) Page[T] {
	totalPages := 1
	if limit > 0 {
		tp := int((total + int64(limit) - 1) / int64(limit))
		if tp > 1 {
			totalPages = tp
		}
	}
	return Page[T]{
		Items:       items,
		Total:       total,
		PageNum:     page,
		Limit:       limit,
		TotalPages:  totalPages,
		HasPrevPage: page > 1,
		HasNextPage: page < totalPages,
	}
}

// HealthStatus is returned by Store.HealthCheck.
type HealthStatus struct {
	Status string
	Type   string
}

// Store is the metadata store contract.
type Store interface {
	Migrator

	// Package ops.
	GetPackage(ctx context.Context, name string) (*Package, error)
	UpsertPackageVersion(ctx context.Context, pkg Package, version PackageVersion) (*PackageVersion, bool, error)
	VersionExists(ctx context.Context, pkgName, version string) (bool, error)
	GetPackageVersion(ctx context.Context, pkgName, version string) (*PackageVersion, error)
	GetPackageInfo(ctx context.Context, pkgName string) (*PackageInfo, error)
	ListPackages(ctx context.Context, page, limit int) (Page[Package], error)
	ListPackagesByType(ctx context.Context, isUpstreamCache bool, page, limit int) (Page[Package], error)
	SearchPackages(ctx context.Context, query string, page, limit int) (Page[Package], error)
	DeletePackage(ctx context.Context, name string) (int64, error)
	DiscontinuePackage(ctx context.Context, name string, replacedBy *string) error
	RetractVersion(ctx context.Context, pkgName, version string, message *string) error
	UnretractVersion(ctx context.Context, pkgName, version string) error
	IncrementDownloadCount(ctx context.Context, pkgName, version string, delta int64) error

	// User ops.
	CreateUser(ctx context.Context, u User) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, page, limit int) (Page[User], error)
	DeleteUser(ctx context.Context, id string) error

	// AdminUser ops.
	CreateAdminUser(ctx context.Context, a AdminUser) (*AdminUser, error)
	GetAdminUserByUsername(ctx context.Context, username string) (*AdminUser, error)

	// Token ops.
	CreateToken(ctx context.Context, t AuthToken) (*AuthToken, error)
	ListTokens(ctx context.Context, userID string) ([]AuthToken, error)
	DeleteToken(ctx context.Context, id string) error
	GetTokenByHash(ctx context.Context, hash string) (*AuthToken, error)
	TouchToken(ctx context.Context, hash string, at time.Time) error

	// Upload sessions.
	CreateUploadSession(ctx context.Context, s UploadSession) (*UploadSession, error)
	GetUploadSession(ctx context.Context, id string) (*UploadSession, error)
	CompleteUploadSession(ctx context.Context, id string) error
	CleanupExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Webhook ops.
	CreateWebhook(ctx context.Context, w Webhook) (*Webhook, error)
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	ListWebhooks(ctx context.Context) ([]Webhook, error)
	ListActiveWebhooksForEvent(ctx context.Context, eventType string) ([]Webhook, error)
	UpdateWebhook(ctx context.Context, w Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	RecordWebhookDelivery(ctx context.Context, d WebhookDelivery) error
	ListPendingRetries(ctx context.Context) ([]WebhookDelivery, error)

	// Activity.
	LogActivity(ctx context.Context, e ActivityLogEntry) error
	GetRecentActivity(ctx context.Context, limit int) ([]ActivityLogEntry, error)

	// SiteConfig.
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
	GetAllConfig(ctx context.Context) (map[string]string, error)

	// StorageConfig, staged: a pending doc is written, then promoted to active.
	GetStorageConfig(ctx context.Context, stage string) (string, error)
	SetStorageConfig(ctx context.Context, stage, jsonDoc string) error

	// Backup.
	Export(ctx context.Context) (*BackupDocument, error)
	Import(ctx context.Context, doc *BackupDocument, dryRun bool) (ImportCounts, error)

	HealthCheck(ctx context.Context) (HealthStatus, error)
	Close() error
}

// Migrator exposes the migration machinery so cmd/repub's `migrate`
// subcommand can invoke it without depending on the full Store surface.
type Migrator interface {
	ApplyMigrations(ctx context.Context) error
}
