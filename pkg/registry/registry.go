package registry

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/repub/registry/pkg/activity"
	"github.com/repub/registry/pkg/auth"
	"github.com/repub/registry/pkg/blobstore"
	"github.com/repub/registry/pkg/config"
	"github.com/repub/registry/pkg/metastore"
	"github.com/repub/registry/pkg/observability"
	"github.com/repub/registry/pkg/publish"
	"github.com/repub/registry/pkg/upstream"
	"github.com/repub/registry/pkg/webhooks"
)

// Service is the composition root: every package built for this
// registry, wired together, plus the cron scheduler driving periodic
// maintenance.
type Service struct {
	Config    *config.Config
	Store     metastore.Store
	Blobs     blobstore.Store
	Tokens    *auth.TokenService
	Activity  *activity.Log
	Webhooks  *webhooks.Dispatcher
	Publisher *publish.Service
	Proxy     *upstream.ProxyCache
	Logger    *observability.Logger

	cron *cron.Cron
}

// New builds a Service from an already-loaded Config and opened
// Store/Blobs pair. The caller owns the lifetime of db connections;
// Service.Close only stops the background jobs it started.
func New(cfg *config.Config, store metastore.Store, blobs blobstore.Store, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	tokens := auth.NewTokenService(store, 5*time.Minute)
	activityLog := activity.New(store)
	dispatcher := webhooks.NewDispatcher(store, activityLog, 4, 256)
	publisher := publish.NewService(store, blobs, activityLog, dispatcher, 30*time.Minute)

	var proxy *upstream.ProxyCache
	if cfg.Registry.EnableUpstreamProxy {
		client := upstream.NewClient(cfg.Registry.UpstreamURL, 30*time.Second)
		proxy = upstream.NewProxyCache(store, blobs, client, activityLog, true)
	}

	return &Service{
		Config:    cfg,
		Store:     store,
		Blobs:     blobs,
		Tokens:    tokens,
		Activity:  activityLog,
		Webhooks:  dispatcher,
		Publisher: publisher,
		Proxy:     proxy,
		Logger:    logger,
		cron:      cron.New(),
	}
}

// Start launches the webhook dispatcher workers and schedules the
// recurring maintenance jobs. Call once during process startup.
func (s *Service) Start(ctx context.Context) error {
	s.Webhooks.Start(ctx)

	if _, err := s.cron.AddFunc("*/5 * * * *", func() {
		s.runExpiredSessionGC(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop stops the cron scheduler, waiting for a running GC job to
// finish, then signals the webhook dispatcher's workers to exit without
// waiting for them.
func (s *Service) Stop() {
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()
	s.Webhooks.Stop()
}

// runExpiredSessionGC deletes every upload session whose expiry has
// passed, whatever its state, freeing the upload_id namespace.
func (s *Service) runExpiredSessionGC(ctx context.Context) {
	n, err := s.Store.CleanupExpiredSessions(ctx, time.Now())
	if err != nil {
		s.Logger.WithError(err).Warn("expired upload session cleanup failed")
		return
	}
	if n > 0 {
		s.Logger.WithField("count", n).Info("cleaned up expired upload sessions")
	}
}
