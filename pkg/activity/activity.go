// Package activity implements the append-only activity log: a thin
// writer/reader pair over the metadata store's
// activity_log table, narrowed from pkg/audit's broad EventType
// taxonomy down to the handful of event types this registry's
// operations actually emit.
package activity

import (
	"context"
	"time"

	"github.com/repub/registry/pkg/metastore"
)

// Type identifies the kind of activity recorded.
type Type string

const (
	TypePackagePublished       Type = "package_published"
	TypePackageRetracted       Type = "package_retracted"
	TypePackageUnretracted     Type = "package_unretracted"
	TypePackageDiscontinued    Type = "package_discontinued"
	TypePackageDeleted         Type = "package_deleted"
	TypeTokenCreated           Type = "token_created"
	TypeTokenDeleted           Type = "token_deleted"
	TypeWebhookCreated         Type = "webhook_created"
	TypeWebhookUpdated         Type = "webhook_updated"
	TypeWebhookDeleted         Type = "webhook_deleted"
	TypeWebhookAutoDisabled    Type = "webhook_auto_disabled"
	TypeUserCreated            Type = "user_created"
	TypeAuthSuccess            Type = "auth_success"
	TypeAuthFailure            Type = "auth_failure"
	TypeStorageConfigActivated Type = "storage_config_activated"
	TypeCacheCleared           Type = "cache_cleared"
	TypeUpstreamHashMismatch   Type = "upstream_hash_mismatch"
)

// ActorType identifies who performed the activity.
type ActorType string

const (
	ActorUser      ActorType = "user"
	ActorAdmin     ActorType = "admin"
	ActorAnonymous ActorType = "anonymous"
	ActorSystem    ActorType = "system"
)

// Entry is a single activity log record.
type Entry struct {
	Type       Type
	ActorType  ActorType
	ActorID    string
	ActorEmail string
	TargetType string
	TargetID   string
	Metadata   map[string]interface{}
}

// Store is the subset of metastore.Store the activity log depends on.
type Store interface {
	LogActivity(ctx context.Context, e metastore.ActivityLogEntry) error
	GetRecentActivity(ctx context.Context, limit int) ([]metastore.ActivityLogEntry, error)
}

// Log writes and reads activity entries.
type Log struct {
	store Store
}

// New constructs a Log backed by store.
func New(store Store) *Log {
	return &Log{store: store}
}

// Record appends e to the activity log. Failures are the caller's to
// handle; a publish or admin action typically logs best-effort and
// never fails the triggering request over a logging error.
func (l *Log) Record(ctx context.Context, e Entry) error {
	row := metastore.ActivityLogEntry{
		ActivityType: string(e.Type),
		ActorType:    string(e.ActorType),
		Metadata:     e.Metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if e.ActorID != "" {
		id := e.ActorID
		row.ActorID = &id
	}
	if e.ActorEmail != "" {
		email := e.ActorEmail
		row.ActorEmail = &email
	}
	if e.TargetType != "" {
		tt := e.TargetType
		row.TargetType = &tt
	}
	if e.TargetID != "" {
		tid := e.TargetID
		row.TargetID = &tid
	}
	return l.store.LogActivity(ctx, row)
}

// Recent returns up to limit of the most recently recorded entries,
// newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]metastore.ActivityLogEntry, error) {
	return l.store.GetRecentActivity(ctx, limit)
}
