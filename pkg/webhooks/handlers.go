package webhooks

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/repub/registry/pkg/apierr"
	"github.com/repub/registry/pkg/httputil"
	"github.com/repub/registry/pkg/metastore"
)

// Handlers exposes the admin HTTP surface for webhook management
// (`/admin/api/webhooks*`).
type Handlers struct {
	dispatcher *Dispatcher
}

// NewHandlers builds admin webhook handlers backed by dispatcher.
func NewHandlers(dispatcher *Dispatcher) *Handlers {
	return &Handlers{dispatcher: dispatcher}
}

// RegisterRoutes mounts the webhook admin routes under router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/api/webhooks", h.create).Methods(http.MethodPost)
	router.HandleFunc("/admin/api/webhooks", h.list).Methods(http.MethodGet)
	router.HandleFunc("/admin/api/webhooks/{id}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/admin/api/webhooks/{id}", h.update).Methods(http.MethodPut)
	router.HandleFunc("/admin/api/webhooks/{id}", h.delete).Methods(http.MethodDelete)
	router.HandleFunc("/admin/api/webhooks/{id}/test", h.test).Methods(http.MethodPost)
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	var hook metastore.Webhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		httputil.WriteAPIError(w, apierr.Wrap(apierr.BadRequest, "invalid webhook payload", err))
		return
	}
	if hook.URL == "" {
		httputil.WriteAPIError(w, apierr.New(apierr.BadRequest, "url is required"))
		return
	}
	if len(hook.Events) == 0 {
		httputil.WriteAPIError(w, apierr.New(apierr.BadRequest, "at least one event type is required"))
		return
	}

	created, err := h.dispatcher.CreateWebhook(r.Context(), hook)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.dispatcher.ListWebhooks(r.Context())
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"webhooks": hooks})
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	hook, err := h.dispatcher.GetWebhook(r.Context(), id)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, hook)
}

func (h *Handlers) update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, err := h.dispatcher.GetWebhook(r.Context(), id)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	var patch struct {
		URL      string   `json:"url"`
		Events   []string `json:"events"`
		Secret   string   `json:"secret"`
		IsActive *bool    `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httputil.WriteAPIError(w, apierr.Wrap(apierr.BadRequest, "invalid webhook payload", err))
		return
	}
	if patch.URL != "" {
		existing.URL = patch.URL
	}
	if len(patch.Events) > 0 {
		existing.Events = patch.Events
	}
	if patch.Secret != "" {
		existing.Secret = patch.Secret
	}
	if patch.IsActive != nil {
		existing.IsActive = *patch.IsActive
	}

	if err := h.dispatcher.UpdateWebhook(r.Context(), *existing); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, existing)
}

func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.dispatcher.DeleteWebhook(r.Context(), id); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) test(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.dispatcher.TestDelivery(r.Context(), id); err != nil {
		httputil.WriteAPIError(w, apierr.Wrap(apierr.UpstreamUnavailable, "test delivery failed", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "test delivery sent"})
}
