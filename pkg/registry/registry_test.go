package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/repub/registry/pkg/blobstore"
	"github.com/repub/registry/pkg/config"
	"github.com/repub/registry/pkg/metastore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	store, err := metastore.OpenEmbedded(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.(*metastore.SQLStore).ApplyMigrations(context.Background()))
	t.Cleanup(func() { store.Close() })

	blobs, err := blobstore.NewFilesystemStore(t.TempDir(), nil)
	require.NoError(t, err)

	cfg := &config.Config{Registry: config.RegistryConfig{BaseURL: "http://repub.test"}}
	return New(cfg, store, blobs, nil)
}

func TestNewWiresAllComponents(t *testing.T) {
	svc := newTestService(t)
	require.NotNil(t, svc.Tokens)
	require.NotNil(t, svc.Activity)
	require.NotNil(t, svc.Webhooks)
	require.NotNil(t, svc.Publisher)
	require.Nil(t, svc.Proxy, "proxy cache is only built when upstream proxying is enabled")
}

func TestStartAndStopRunsCleanly(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, svc.Start(ctx))
	svc.Stop()
}

func TestRunExpiredSessionGCRemovesExpiredSessions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store.CreateUploadSession(ctx, metastore.UploadSession{
		ID:        "expired-1",
		State:     metastore.UploadSessionOpen,
		ExpiresAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	svc.runExpiredSessionGC(ctx)

	_, err = svc.Store.GetUploadSession(ctx, "expired-1")
	require.Error(t, err)
}
