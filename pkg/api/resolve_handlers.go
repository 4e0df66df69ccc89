package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/repub/registry/pkg/apierr"
	"github.com/repub/registry/pkg/auth"
	"github.com/repub/registry/pkg/httputil"
	"github.com/repub/registry/pkg/metastore"
	"github.com/repub/registry/pkg/observability"
	"github.com/repub/registry/pkg/webhooks"
)

const pubV2ContentType = "application/vnd.pub.v2+json"

// checkDownloadAuth enforces require_download_auth.
func (s *Server) checkDownloadAuth(w http.ResponseWriter, r *http.Request) bool {
	if !s.cfg.Registry.RequireDownloadAuth {
		return true
	}
	authCtx := authFromContext(r.Context())
	if authCtx == nil || !authCtx.HasScope(auth.ReadCapability()) {
		httputil.WriteAPIError(w, apierr.New(apierr.Unauthorized, "a read token is required to access this registry"))
		return false
	}
	return true
}

// resolvePackageInfo fetches PackageInfo, falling through to the
// upstream proxy-cache on a local miss when enabled.
func (s *Server) resolvePackageInfo(r *http.Request, name string) (*metastore.PackageInfo, error) {
	if s.proxy != nil {
		return s.proxy.GetVersionListing(r.Context(), name)
	}
	return s.store.GetPackageInfo(r.Context(), name)
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	if !s.checkDownloadAuth(w, r) {
		return
	}
	name := mux.Vars(r)["name"]

	info, err := s.resolvePackageInfo(r, name)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	doc := buildListingDoc(s.cfg.Registry.BaseURL, info)
	w.Header().Set("Content-Type", pubV2ContentType)
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	if !s.checkDownloadAuth(w, r) {
		return
	}
	vars := mux.Vars(r)
	name, version := vars["name"], vars["version"]

	info, err := s.resolvePackageInfo(r, name)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	for _, pv := range info.Versions {
		if pv.Version == version {
			w.Header().Set("Content-Type", pubV2ContentType)
			httputil.WriteJSON(w, http.StatusOK, toVersionDoc(s.cfg.Registry.BaseURL, pv))
			return
		}
	}
	httputil.WriteAPIError(w, apierr.New(apierr.NotFound, "version not found"))
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	if !s.checkDownloadAuth(w, r) {
		return
	}
	vars := mux.Vars(r)
	name, version := vars["name"], vars["version"]

	pv, err := s.store.GetPackageVersion(r.Context(), name, version)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	var data []byte
	if s.proxy != nil {
		data, err = s.proxy.GetArchive(r.Context(), name, version)
	} else {
		data, err = s.blobs.GetArchive(r.Context(), pv.ArchiveKey)
	}
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	if url, urlErr := s.blobs.DownloadURL(r.Context(), pv.ArchiveKey); urlErr == nil && url != "" {
		http.Redirect(w, r, url, http.StatusFound)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}

	go s.recordDownload(name, version)
}

// recordDownload increments the download counter and emits
// package.downloaded asynchronously, detached from the request
// context so client disconnect never drops the count.
func (s *Server) recordDownload(name, version string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.IncrementDownloadCount(ctx, name, version, 1); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to record download count")
	}
	if s.dispatcher != nil {
		_ = s.dispatcher.Dispatch(ctx, webhooks.EventPackageDownloaded, map[string]interface{}{
			"package": name,
			"version": version,
		})
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	page, _ := httputil.ParseQueryInt(r, "page", 1)
	limit, _ := httputil.ParseQueryInt(r, "limit", 20)

	results, err := s.store.SearchPackages(r.Context(), query, page, limit)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, results)
}
