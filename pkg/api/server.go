package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/repub/registry/pkg/activity"
	"github.com/repub/registry/pkg/auth"
	"github.com/repub/registry/pkg/blobstore"
	"github.com/repub/registry/pkg/config"
	"github.com/repub/registry/pkg/httputil"
	"github.com/repub/registry/pkg/metastore"
	"github.com/repub/registry/pkg/observability"
	"github.com/repub/registry/pkg/publish"
	"github.com/repub/registry/pkg/ratelimit"
	"github.com/repub/registry/pkg/upstream"
	"github.com/repub/registry/pkg/webhooks"
)

// Server composes every domain service behind a gorilla/mux router,
// handed to NewServer fully constructed rather than assembled inside it.
type Server struct {
	Router *mux.Router

	cfg         *config.Config
	store       metastore.Store
	blobs       blobstore.Store
	tokens      *auth.TokenService
	activityLog *activity.Log
	dispatcher  *webhooks.Dispatcher
	publisher   *publish.Service
	proxy       *upstream.ProxyCache
	logger      *observability.Logger

	limiter       *ratelimit.Limiter
	strictLimiter *ratelimit.Limiter
}

// NewServer builds a Server with routes registered and ready to serve.
func NewServer(
	cfg *config.Config,
	store metastore.Store,
	blobs blobstore.Store,
	tokens *auth.TokenService,
	activityLog *activity.Log,
	dispatcher *webhooks.Dispatcher,
	publisher *publish.Service,
	proxy *upstream.ProxyCache,
	logger *observability.Logger,
) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	limit := cfg.Registry.RateLimitRequests
	window := cfg.Registry.RateLimitWindow
	if limit <= 0 {
		limit = 300
	}
	if window <= 0 {
		window = time.Minute
	}

	s := &Server{
		cfg:           cfg,
		store:         store,
		blobs:         blobs,
		tokens:        tokens,
		activityLog:   activityLog,
		dispatcher:    dispatcher,
		publisher:     publisher,
		proxy:         proxy,
		logger:        logger,
		limiter:       ratelimit.New(limit, window),
		strictLimiter: ratelimit.New(limit/4+1, window),
	}
	s.Router = mux.NewRouter()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.Router.Use(recoveryMiddleware)
	s.Router.Use(requestIDMiddleware)
	s.Router.Use(loggingMiddleware(s.logger))
	s.Router.Use(ratelimit.Middleware(s.limiter))

	// publish carries its own stricter rate limit and
	// must be registered before the generic /{name} routes below so
	// mux matches "/versions/..." here rather than treating "versions"
	// as a package name.
	publish := s.Router.PathPrefix("/api/packages/versions").Subrouter()
	publish.Use(ratelimit.Middleware(s.strictLimiter))
	publish.Use(httputil.MaxBytesMiddleware(maxUploadBodyBytes))
	publish.Use(requireAuthMiddleware(s.tokens))
	publish.HandleFunc("/new", s.handleNewUploadSession).Methods(http.MethodGet)
	publish.HandleFunc("/newUpload", s.handleUpload).Methods(http.MethodPost)
	publish.HandleFunc("/newUploadFinish", s.handleUploadFinish).Methods(http.MethodGet)

	public := s.Router.PathPrefix("/api/packages").Subrouter()
	public.Use(optionalAuthMiddleware(s.tokens))
	public.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	public.HandleFunc("/{name}", s.handleGetPackage).Methods(http.MethodGet)
	public.HandleFunc("/{name}/versions/{version}", s.handleGetVersion).Methods(http.MethodGet)
	public.HandleFunc("/{name}/versions/{version}/archive.tar.gz", s.handleGetArchive).Methods(http.MethodGet)

	admin := s.Router.PathPrefix("/admin/api").Subrouter()
	admin.Use(ratelimit.Middleware(s.strictLimiter))
	admin.Use(requireAuthMiddleware(s.tokens))
	admin.Use(requireAdminScope)
	admin.Use(httputil.ContentTypeMiddleware)

	admin.HandleFunc("/stats", s.handleAdminStats).Methods(http.MethodGet)

	admin.HandleFunc("/packages", s.handleAdminListPackages).Methods(http.MethodGet)
	admin.HandleFunc("/packages/{name}", s.handleAdminDeletePackage).Methods(http.MethodDelete)
	admin.HandleFunc("/packages/{name}/discontinue", s.handleAdminDiscontinuePackage).Methods(http.MethodPost)
	admin.HandleFunc("/packages/{name}/versions/{version}/retract", s.handleAdminRetractVersion).Methods(http.MethodPost)
	admin.HandleFunc("/packages/{name}/versions/{version}/unretract", s.handleAdminUnretractVersion).Methods(http.MethodPost)

	admin.HandleFunc("/users", s.handleAdminListUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users", s.handleAdminCreateUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}", s.handleAdminDeleteUser).Methods(http.MethodDelete)

	admin.HandleFunc("/tokens", s.handleAdminListTokens).Methods(http.MethodGet)
	admin.HandleFunc("/tokens", s.handleAdminCreateToken).Methods(http.MethodPost)
	admin.HandleFunc("/tokens/{id}", s.handleAdminDeleteToken).Methods(http.MethodDelete)

	admin.HandleFunc("/config", s.handleAdminGetConfig).Methods(http.MethodGet)
	admin.HandleFunc("/config", s.handleAdminSetConfig).Methods(http.MethodPost)

	admin.HandleFunc("/cache/clear", s.handleAdminClearCache).Methods(http.MethodPost)

	webhooks.NewHandlers(s.dispatcher).RegisterRoutes(admin)
}
