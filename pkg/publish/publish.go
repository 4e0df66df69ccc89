package publish

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/repub/registry/pkg/activity"
	"github.com/repub/registry/pkg/apierr"
	"github.com/repub/registry/pkg/auth"
	"github.com/repub/registry/pkg/blobstore"
	"github.com/repub/registry/pkg/metastore"
	"github.com/repub/registry/pkg/webhooks"
)

// DefaultMaxUploadSizeMB is used when site config has no
// max_upload_size_mb entry.
const DefaultMaxUploadSizeMB = 64

// Service implements the publish pipeline: session
// lifecycle, archive/manifest validation, blob write, metadata upsert,
// activity log, and webhook dispatch.
type Service struct {
	store       metastore.Store
	blobs       blobstore.Store
	activityLog *activity.Log
	dispatcher  *webhooks.Dispatcher
	ttl         time.Duration
}

// NewService builds a Service. ttl of zero uses DefaultSessionTTL.
func NewService(store metastore.Store, blobs blobstore.Store, activityLog *activity.Log, dispatcher *webhooks.Dispatcher, ttl time.Duration) *Service {
	return &Service{store: store, blobs: blobs, activityLog: activityLog, dispatcher: dispatcher, ttl: ttl}
}

func (s *Service) sessionTTL() time.Duration {
	if s.ttl <= 0 {
		return DefaultSessionTTL
	}
	return s.ttl
}

func (s *Service) maxUploadSizeBytes(ctx context.Context) int64 {
	mb := DefaultMaxUploadSizeMB
	if v, ok, err := s.store.GetConfig(ctx, "max_upload_size_mb"); err == nil && ok {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			mb = parsed
		}
	}
	return int64(mb) * 1024 * 1024
}

// UploadResult is returned by Upload.
type UploadResult struct {
	Package string
	Version string
	SHA256  string
}

// Upload resolves the session, enforces the size limit, validates the
// archive and manifest, authorizes the caller, writes the blob, upserts
// metadata, marks the session completed, logs activity, and dispatches
// the package.published webhook.
func (s *Service) Upload(ctx context.Context, sessionID string, authCtx *auth.AuthContext, data []byte) (*UploadResult, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > s.maxUploadSizeBytes(ctx) {
		return nil, apierr.New(apierr.PayloadTooLarge, "archive exceeds the configured maximum upload size")
	}

	validated, err := ValidateArchive(data)
	if err != nil {
		return nil, err
	}
	manifest := validated.Manifest

	existingPkg, err := s.store.GetPackage(ctx, manifest.Name)
	if err != nil && !apierr.Is(err, apierr.NotFound) {
		return nil, err
	}
	if existingPkg != nil && existingPkg.IsUpstreamCache {
		return nil, apierr.New(apierr.Forbidden, "cannot publish into the cached-package namespace")
	}

	if authCtx == nil || !authCtx.HasScope(auth.PublishCapability(manifest.Name)) {
		return nil, apierr.New(apierr.Forbidden, "token does not hold the required publish scope")
	}

	archiveKey := blobstore.ArchiveKey(blobstore.NamespaceHosted, manifest.Name, manifest.Version, validated.SHA256)
	if err := s.blobs.PutArchive(ctx, archiveKey, data); err != nil {
		return nil, fmt.Errorf("failed to write archive blob: %w", err)
	}

	pkg := metastore.Package{Name: manifest.Name, IsUpstreamCache: false}
	pv := metastore.PackageVersion{
		PackageName:   manifest.Name,
		Version:       manifest.Version,
		Pubspec:       manifest.Raw,
		ArchiveKey:    archiveKey,
		ArchiveSHA256: validated.SHA256,
	}
	_, created, err := s.store.UpsertPackageVersion(ctx, pkg, pv)
	if err != nil {
		return nil, err
	}

	if err := s.store.CompleteUploadSession(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("failed to mark upload session completed: %w", err)
	}

	// A byte-identical republish (created == false) must not re-fire the
	// activity log or webhook dispatch: two concurrent identical publishes
	// have exactly one side effect between them, not one each.
	if created {
		if s.activityLog != nil {
			entry := activity.Entry{
				Type:       activity.TypePackagePublished,
				ActorType:  activity.ActorUser,
				TargetType: "package_version",
				TargetID:   manifest.Name + "@" + manifest.Version,
				Metadata: map[string]interface{}{
					"package": manifest.Name,
					"version": manifest.Version,
					"sha256":  validated.SHA256,
				},
			}
			if authCtx != nil {
				entry.ActorID = authCtx.Token.UserID
				entry.ActorEmail = authCtx.User.Email
			}
			_ = s.activityLog.Record(ctx, entry)
		}

		if s.dispatcher != nil {
			_ = s.dispatcher.Dispatch(ctx, webhooks.EventPackagePublished, map[string]interface{}{
				"package":      manifest.Name,
				"version":      manifest.Version,
				"sha256":       validated.SHA256,
				"published_at": time.Now().UTC().Format(time.RFC3339),
			})
		}
	}

	return &UploadResult{Package: manifest.Name, Version: manifest.Version, SHA256: validated.SHA256}, nil
}
