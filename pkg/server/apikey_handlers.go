package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xdeploy/xdeploy/pkg/httputil"
	"github.com/xdeploy/xdeploy/pkg/policy"
)

// APIKeyHandlers serves org-scoped API key management. The secret appears
// in exactly one response: the creation one.
type APIKeyHandlers struct {
	svc   APIKeyService
	authz Authorizer
}

// NewAPIKeyHandlers creates the API key handler group.
func NewAPIKeyHandlers(svc APIKeyService, authz Authorizer) *APIKeyHandlers {
	return &APIKeyHandlers{svc: svc, authz: authz}
}

// RegisterRoutes registers the API key routes.
func (h *APIKeyHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organization/{orgId}/api-keys", h.List).Methods("GET")
	router.HandleFunc("/organization/{orgId}/api-keys", h.Create).Methods("POST")
	router.HandleFunc("/organization/{orgId}/api-key/{id}", h.Get).Methods("GET")
	router.HandleFunc("/organization/{orgId}/api-key/{id}", h.Revoke).Methods("DELETE")
}

// List handles GET /organization/{orgId}/api-keys.
func (h *APIKeyHandlers) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounAPIKey, policy.VerbRead))
	if !ok {
		return
	}

	keys, err := h.svc.List(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, keys)
}

// Create handles POST /organization/{orgId}/api-keys.
func (h *APIKeyHandlers) Create(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounAPIKey, policy.VerbWrite))
	if !ok {
		return
	}
	var req struct {
		Name        string              `json:"name"`
		Permissions []policy.Permission `json:"permissions"`
		ExpiresAt   *time.Time          `json:"expiresAt,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	key, secret, err := h.svc.Create(r.Context(), orgID, req.Name, req.Permissions, req.ExpiresAt)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteCreated(w, map[string]interface{}{
		"key":    key,
		"secret": secret,
	})
}

// Get handles GET /organization/{orgId}/api-key/{id}.
func (h *APIKeyHandlers) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounAPIKey, policy.VerbRead))
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	key, err := h.svc.Get(r.Context(), orgID, id)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, key)
}

// Revoke handles DELETE /organization/{orgId}/api-key/{id}.
func (h *APIKeyHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounAPIKey, policy.VerbDelete))
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.Revoke(r.Context(), orgID, id); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
