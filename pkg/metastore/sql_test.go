package metastore

import (
	"context"
	"testing"
	"time"

	"github.com/repub/registry/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := OpenEmbedded(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.(*SQLStore).ApplyMigrations(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertPackageVersionCreatesPackageAndVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	v, created, err := store.UpsertPackageVersion(ctx, Package{Name: "foo"}, PackageVersion{
		Version:       "1.0.0",
		Pubspec:       map[string]interface{}{"name": "foo", "version": "1.0.0"},
		ArchiveKey:    "hosted-packages/foo/1.0.0/abc.tar.gz",
		ArchiveSHA256: "abc",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "foo", v.PackageName)
	assert.False(t, v.PublishedAt.IsZero())

	pkg, err := store.GetPackage(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "foo", pkg.Name)

	got, err := store.GetPackageVersion(ctx, "foo", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ArchiveSHA256)
}

// Re-publishing the byte-identical archive is idempotent: no new row,
// published_at unchanged.
func TestUpsertPackageVersionIdempotentOnIdenticalSHA(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, created, err := store.UpsertPackageVersion(ctx, Package{Name: "foo"}, PackageVersion{
		Version: "1.0.0", ArchiveKey: "k", ArchiveSHA256: "abc",
	})
	require.NoError(t, err)
	assert.True(t, created)

	time.Sleep(2 * time.Millisecond)

	second, created, err := store.UpsertPackageVersion(ctx, Package{Name: "foo"}, PackageVersion{
		Version: "1.0.0", ArchiveKey: "k", ArchiveSHA256: "abc",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.PublishedAt.Unix(), second.PublishedAt.Unix())
}

// Publishing a different archive to an existing (name, version) fails
// with Conflict and leaves state unchanged.
func TestUpsertPackageVersionConflictsOnDifferentSHA(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _, err := store.UpsertPackageVersion(ctx, Package{Name: "foo"}, PackageVersion{
		Version: "1.0.0", ArchiveKey: "k1", ArchiveSHA256: "abc",
	})
	require.NoError(t, err)

	_, _, err = store.UpsertPackageVersion(ctx, Package{Name: "foo"}, PackageVersion{
		Version: "1.0.0", ArchiveKey: "k2", ArchiveSHA256: "different",
	})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.Conflict))

	got, err := store.GetPackageVersion(ctx, "foo", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ArchiveSHA256)
}

func TestIsUpstreamCacheCannotBeToggled(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _, err := store.UpsertPackageVersion(ctx, Package{Name: "bar", IsUpstreamCache: true}, PackageVersion{
		Version: "1.0.0", ArchiveKey: "k", ArchiveSHA256: "abc",
	})
	require.NoError(t, err)

	_, _, err = store.UpsertPackageVersion(ctx, Package{Name: "bar", IsUpstreamCache: false}, PackageVersion{
		Version: "2.0.0", ArchiveKey: "k2", ArchiveSHA256: "def",
	})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.Forbidden))
}

// Deleting a package deletes all its versions.
func TestDeletePackageCascadesVersions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, ver := range []string{"1.0.0", "1.1.0"} {
		_, _, err := store.UpsertPackageVersion(ctx, Package{Name: "foo"}, PackageVersion{
			Version: ver, ArchiveKey: "k-" + ver, ArchiveSHA256: "sha-" + ver,
		})
		require.NoError(t, err)
	}

	deleted, err := store.DeletePackage(ctx, "foo")
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	_, err = store.GetPackage(ctx, "foo")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.NotFound))

	exists, err := store.VersionExists(ctx, "foo", "1.0.0")
	require.NoError(t, err)
	assert.False(t, exists)
}

// Paginated listings partition cleanly across pages.
func TestListPackagesPagination(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	names := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for _, name := range names {
		_, _, err := store.UpsertPackageVersion(ctx, Package{Name: name}, PackageVersion{
			Version: "1.0.0", ArchiveKey: "k", ArchiveSHA256: "sha",
		})
		require.NoError(t, err)
	}

	page1, err := store.ListPackages(ctx, 1, 2)
	require.NoError(t, err)
	page2, err := store.ListPackages(ctx, 2, 2)
	require.NoError(t, err)
	page3, err := store.ListPackages(ctx, 3, 2)
	require.NoError(t, err)

	assert.EqualValues(t, 5, page1.Total)
	assert.Equal(t, 3, page1.TotalPages)
	assert.Len(t, page1.Items, 2)
	assert.Len(t, page2.Items, 2)
	assert.Len(t, page3.Items, 1)

	seen := map[string]bool{}
	for _, p := range append(append(page1.Items, page2.Items...), page3.Items...) {
		assert.False(t, seen[p.Name], "duplicate across pages: %s", p.Name)
		seen[p.Name] = true
	}
	assert.Len(t, seen, 5)
}

func TestRetractAndUnretract(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _, err := store.UpsertPackageVersion(ctx, Package{Name: "foo"}, PackageVersion{
		Version: "1.0.0", ArchiveKey: "k", ArchiveSHA256: "abc",
	})
	require.NoError(t, err)

	msg := "security"
	require.NoError(t, store.RetractVersion(ctx, "foo", "1.0.0", &msg))
	got, err := store.GetPackageVersion(ctx, "foo", "1.0.0")
	require.NoError(t, err)
	assert.True(t, got.IsRetracted)
	assert.Equal(t, "security", *got.RetractionMessage)

	require.NoError(t, store.UnretractVersion(ctx, "foo", "1.0.0"))
	got, err = store.GetPackageVersion(ctx, "foo", "1.0.0")
	require.NoError(t, err)
	assert.False(t, got.IsRetracted)
	assert.Nil(t, got.RetractedAt)
	assert.Nil(t, got.RetractionMessage)
}

func TestTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	u, err := store.CreateUser(ctx, User{Email: "a@example.com", PasswordHash: "hash", IsActive: true})
	require.NoError(t, err)

	tok, err := store.CreateToken(ctx, AuthToken{UserID: u.ID, TokenHash: "hashed-token", Label: "ci", Scopes: []string{"publish:all"}})
	require.NoError(t, err)

	got, err := store.GetTokenByHash(ctx, "hashed-token")
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)
	assert.Equal(t, []string{"publish:all"}, got.Scopes)

	require.NoError(t, store.TouchToken(ctx, "hashed-token", time.Now().UTC()))
	got, err = store.GetTokenByHash(ctx, "hashed-token")
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)

	_, err = store.GetTokenByHash(ctx, "no-such-hash")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.Unauthorized))
}

func TestUploadSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	sess, err := store.CreateUploadSession(ctx, UploadSession{ExpiresAt: time.Now().Add(10 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, UploadSessionOpen, sess.State)

	require.NoError(t, store.CompleteUploadSession(ctx, sess.ID))
	got, err := store.GetUploadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, UploadSessionCompleted, got.State)

	expired, err := store.CreateUploadSession(ctx, UploadSession{ExpiresAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	n, err := store.CleanupExpiredSessions(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = store.GetUploadSession(ctx, expired.ID)
	require.Error(t, err)
}

func TestActivityLogOrdering(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, kind := range []string{"package_published", "package_retracted", "token_created"} {
		require.NoError(t, store.LogActivity(ctx, ActivityLogEntry{ActivityType: kind, ActorType: "system"}))
	}

	recent, err := store.GetRecentActivity(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "token_created", recent[0].ActivityType)
}

func TestSiteConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SetConfig(ctx, "max_upload_size_mb", "64"))
	v, ok, err := store.GetConfig(ctx, "max_upload_size_mb")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "64", v)

	_, ok, err = store.GetConfig(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackupExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _, err := store.UpsertPackageVersion(ctx, Package{Name: "foo"}, PackageVersion{
		Version: "1.0.0", ArchiveKey: "k", ArchiveSHA256: "abc", Pubspec: map[string]interface{}{"name": "foo"},
	})
	require.NoError(t, err)
	u, err := store.CreateUser(ctx, User{Email: "a@example.com", PasswordHash: "h", IsActive: true})
	require.NoError(t, err)
	_, err = store.CreateToken(ctx, AuthToken{UserID: u.ID, TokenHash: "h1", Label: "ci", Scopes: []string{"admin"}})
	require.NoError(t, err)

	doc, err := store.Export(ctx)
	require.NoError(t, err)
	assert.Len(t, doc.Data.Packages, 1)
	assert.Len(t, doc.Data.PackageVersions, 1)
	assert.Len(t, doc.Data.Users, 1)
	assert.Len(t, doc.Data.AuthTokens, 1)

	fresh := newTestStore(t)
	counts, err := fresh.Import(ctx, doc, false)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Packages)

	got, err := fresh.GetPackageVersion(ctx, "foo", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ArchiveSHA256)

	dryRunCounts, err := fresh.Import(ctx, doc, true)
	require.NoError(t, err)
	assert.Equal(t, counts, dryRunCounts)
}

func TestBackupImportRefusesNewerFormatVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Import(ctx, &BackupDocument{FormatVersion: BackupFormatVersion + 1}, false)
	require.Error(t, err)
}
