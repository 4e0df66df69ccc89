package api

import (
	"io"
	"net/http"

	"github.com/repub/registry/pkg/apierr"
	"github.com/repub/registry/pkg/httputil"
)

// handleNewUploadSession implements step 1 of the publish pipeline:
// GET /api/packages/versions/new.
func (s *Server) handleNewUploadSession(w http.ResponseWriter, r *http.Request) {
	authCtx := authFromContext(r.Context())
	var userID *string
	if authCtx != nil {
		id := authCtx.Token.UserID
		userID = &id
	}

	sess, err := s.publisher.NewSession(r.Context(), userID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"url": s.cfg.Registry.BaseURL + "/api/packages/versions/newUpload",
		"fields": map[string]string{
			"upload_id": sess.ID,
		},
	})
}

// maxUploadBodyBytes bounds the multipart body read before the
// publish service's own site-config-driven size check runs, guarding
// against an unbounded read on a malicious Content-Length. Enforced by
// httputil.MaxBytesMiddleware on the publish subrouter.
const maxUploadBodyBytes = 256 * 1024 * 1024

// handleUpload implements step 2 of the publish pipeline: resolves the
// upload_id, streams the archive, and delegates to publish.Service.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httputil.WriteAPIError(w, apierr.Wrap(apierr.BadRequest, "invalid multipart upload", err))
		return
	}

	uploadID := r.FormValue("upload_id")
	if uploadID == "" {
		uploadID = r.URL.Query().Get("upload_id")
	}
	if uploadID == "" {
		httputil.WriteAPIError(w, apierr.New(apierr.BadRequest, "upload_id is required"))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		httputil.WriteAPIError(w, apierr.Wrap(apierr.BadRequest, "archive file is required", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httputil.WriteAPIError(w, apierr.Wrap(apierr.BadRequest, "failed to read archive body", err))
		return
	}

	authCtx := authFromContext(r.Context())
	if _, err := s.publisher.Upload(r.Context(), uploadID, authCtx, data); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	redirectURL := s.cfg.Registry.BaseURL + "/api/packages/versions/newUploadFinish?upload_id=" + uploadID
	w.Header().Set("Location", redirectURL)
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadFinish implements step 3: GET
// /api/packages/versions/newUploadFinish?upload_id=<id>.
func (s *Server) handleUploadFinish(w http.ResponseWriter, r *http.Request) {
	uploadID := r.URL.Query().Get("upload_id")
	if uploadID == "" {
		httputil.WriteAPIError(w, apierr.New(apierr.BadRequest, "upload_id is required"))
		return
	}

	status, err := s.publisher.Finish(r.Context(), uploadID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": map[string]string{"message": status.Message},
	})
}
