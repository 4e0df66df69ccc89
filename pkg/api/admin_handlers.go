package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/repub/registry/pkg/activity"
	"github.com/repub/registry/pkg/apierr"
	"github.com/repub/registry/pkg/auth"
	"github.com/repub/registry/pkg/httputil"
	"github.com/repub/registry/pkg/metastore"
)

// handleAdminStats reports aggregate registry counts.
// GET /admin/api/stats.
func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	packages, err := s.store.ListPackages(r.Context(), 1, 1)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	users, err := s.store.ListUsers(r.Context(), 1, 1)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	recent, err := s.store.GetRecentActivity(r.Context(), 20)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total_packages":  packages.Total,
		"total_users":     users.Total,
		"recent_activity": recent,
	})
}

func (s *Server) handleAdminListPackages(w http.ResponseWriter, r *http.Request) {
	page, _ := httputil.ParseQueryInt(r, "page", 1)
	limit, _ := httputil.ParseQueryInt(r, "limit", 50)

	result, err := s.store.ListPackages(r.Context(), page, limit)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleAdminDeletePackage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	deleted, err := s.store.DeletePackage(r.Context(), name)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	s.logActivity(r, activity.TypePackageDeleted, "package", name, map[string]interface{}{"versions_deleted": deleted})
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"versions_deleted": deleted})
}

func (s *Server) handleAdminDiscontinuePackage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var body struct {
		ReplacedBy string `json:"replacedBy"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	var replacedBy *string
	if body.ReplacedBy != "" {
		replacedBy = &body.ReplacedBy
	}

	if err := s.store.DiscontinuePackage(r.Context(), name, replacedBy); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	s.logActivity(r, activity.TypePackageDiscontinued, "package", name, nil)
	httputil.WriteSuccess(w, map[string]interface{}{"discontinued": true})
}

func (s *Server) handleAdminRetractVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, version := vars["name"], vars["version"]

	var body struct {
		Message string `json:"message"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	var message *string
	if body.Message != "" {
		message = &body.Message
	}

	if err := s.store.RetractVersion(r.Context(), name, version, message); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	s.logActivity(r, activity.TypePackageRetracted, "package_version", name+"@"+version, map[string]interface{}{"message": body.Message})
	if s.dispatcher != nil {
		_ = s.dispatcher.Dispatch(r.Context(), "package.retracted", map[string]interface{}{"package": name, "version": version})
	}
	httputil.WriteSuccess(w, map[string]interface{}{"retracted": true})
}

func (s *Server) handleAdminUnretractVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, version := vars["name"], vars["version"]

	if err := s.store.UnretractVersion(r.Context(), name, version); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	s.logActivity(r, activity.TypePackageUnretracted, "package_version", name+"@"+version, nil)
	httputil.WriteSuccess(w, map[string]interface{}{"retracted": false})
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := httputil.ParseQueryInt(r, "page", 1)
	limit, _ := httputil.ParseQueryInt(r, "limit", 50)

	result, err := s.store.ListUsers(r.Context(), page, limit)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteAPIError(w, apierr.Wrap(apierr.BadRequest, "invalid request body", err))
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteAPIError(w, apierr.New(apierr.BadRequest, "email and password are required"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httputil.WriteAPIError(w, apierr.Wrap(apierr.Internal, "failed to hash password", err))
		return
	}

	user, err := s.store.CreateUser(r.Context(), metastore.User{Email: req.Email, PasswordHash: hash, IsActive: true})
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	s.logActivity(r, activity.TypeUserCreated, "user", user.ID, map[string]interface{}{"email": user.Email})
	httputil.WriteCreated(w, user)
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleAdminListTokens(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httputil.WriteAPIError(w, apierr.New(apierr.BadRequest, "user_id is required"))
		return
	}
	tokens, err := s.tokens.ListTokens(r.Context(), userID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"tokens": tokens})
}

func (s *Server) handleAdminCreateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string   `json:"user_id"`
		Label     string   `json:"label"`
		Scopes    []string `json:"scopes"`
		ExpiresAt *string  `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteAPIError(w, apierr.Wrap(apierr.BadRequest, "invalid request body", err))
		return
	}
	if req.UserID == "" || len(req.Scopes) == 0 {
		httputil.WriteAPIError(w, apierr.New(apierr.BadRequest, "user_id and scopes are required"))
		return
	}

	raw, token, err := s.tokens.CreateToken(r.Context(), req.UserID, req.Label, req.Scopes, nil)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	s.logActivity(r, activity.TypeTokenCreated, "auth_token", token.ID, map[string]interface{}{"user_id": req.UserID})
	httputil.WriteCreated(w, map[string]interface{}{"token": raw, "id": token.ID, "label": token.Label, "scopes": token.Scopes})
}

func (s *Server) handleAdminDeleteToken(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.tokens.DeleteToken(r.Context(), id); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	s.logActivity(r, activity.TypeTokenDeleted, "auth_token", id, nil)
	httputil.WriteNoContent(w)
}

func (s *Server) handleAdminGetConfig(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.GetAllConfig(r.Context())
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, all)
}

func (s *Server) handleAdminSetConfig(w http.ResponseWriter, r *http.Request) {
	var patch map[string]string
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httputil.WriteAPIError(w, apierr.Wrap(apierr.BadRequest, "invalid request body", err))
		return
	}
	for key, value := range patch {
		if err := s.store.SetConfig(r.Context(), key, value); err != nil {
			httputil.WriteAPIError(w, err)
			return
		}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"updated": len(patch)})
}

// handleAdminClearCache purges every upstream-cached package, both its
// metadata and blobs. POST /admin/api/cache/clear.
func (s *Server) handleAdminClearCache(w http.ResponseWriter, r *http.Request) {
	cached, err := s.store.ListPackagesByType(r.Context(), true, 1, 10000)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	var cleared int
	for _, pkg := range cached.Items {
		info, err := s.store.GetPackageInfo(r.Context(), pkg.Name)
		if err == nil {
			for _, pv := range info.Versions {
				_ = s.blobs.Delete(r.Context(), pv.ArchiveKey)
			}
		}
		if _, err := s.store.DeletePackage(r.Context(), pkg.Name); err == nil {
			cleared++
		}
	}

	s.logActivity(r, activity.TypeCacheCleared, "", "", map[string]interface{}{"packages_cleared": cleared})
	httputil.WriteSuccess(w, map[string]interface{}{"packages_cleared": cleared})
}

// logActivity is a best-effort helper shared by admin handlers: a
// failure to record activity never fails the triggering request.
func (s *Server) logActivity(r *http.Request, t activity.Type, targetType, targetID string, metadata map[string]interface{}) {
	if s.activityLog == nil {
		return
	}
	entry := activity.Entry{
		Type:       t,
		ActorType:  activity.ActorAdmin,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
	}
	if authCtx := authFromContext(r.Context()); authCtx != nil {
		entry.ActorID = authCtx.Token.UserID
		entry.ActorEmail = authCtx.User.Email
	}
	_ = s.activityLog.Record(r.Context(), entry)
}
