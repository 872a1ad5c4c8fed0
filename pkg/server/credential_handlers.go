package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xdeploy/xdeploy/pkg/httputil"
	"github.com/xdeploy/xdeploy/pkg/policy"
	"github.com/xdeploy/xdeploy/pkg/vault"
)

// CredentialHandlers serves the org-scoped credential vault. Responses
// carry metadata only; the payload is sealed on write and never returned.
type CredentialHandlers struct {
	svc   CredentialService
	authz Authorizer
}

// NewCredentialHandlers creates the credential handler group.
func NewCredentialHandlers(svc CredentialService, authz Authorizer) *CredentialHandlers {
	return &CredentialHandlers{svc: svc, authz: authz}
}

// RegisterRoutes registers the credential routes.
func (h *CredentialHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organization/{orgId}/credentials", h.List).Methods("GET")
	router.HandleFunc("/organization/{orgId}/credentials", h.Create).Methods("POST")
	router.HandleFunc("/organization/{orgId}/credential/{id}", h.Get).Methods("GET")
	router.HandleFunc("/organization/{orgId}/credential/{id}", h.Update).Methods("PUT")
	router.HandleFunc("/organization/{orgId}/credential/{id}", h.Delete).Methods("DELETE")
}

type credentialRequest struct {
	Kind    string            `json:"kind"`
	Name    string            `json:"name"`
	Payload map[string]string `json:"payload"`
}

// List handles GET /organization/{orgId}/credentials.
func (h *CredentialHandlers) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounCredential, policy.VerbRead))
	if !ok {
		return
	}

	list, err := h.svc.List(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// Create handles POST /organization/{orgId}/credentials.
func (h *CredentialHandlers) Create(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounCredential, policy.VerbWrite))
	if !ok {
		return
	}
	var req credentialRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	credential, err := h.svc.Create(r.Context(), orgID, vault.Kind(req.Kind), req.Name, req.Payload)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteCreated(w, credential)
}

// Get handles GET /organization/{orgId}/credential/{id}.
func (h *CredentialHandlers) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounCredential, policy.VerbRead))
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	credential, err := h.svc.Get(r.Context(), orgID, id)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, credential)
}

// Update handles PUT /organization/{orgId}/credential/{id}.
func (h *CredentialHandlers) Update(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounCredential, policy.VerbWrite))
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req credentialRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	credential, err := h.svc.Update(r.Context(), orgID, id, req.Name, req.Payload)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, credential)
}

// Delete handles DELETE /organization/{orgId}/credential/{id}.
func (h *CredentialHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounCredential, policy.VerbDelete))
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), orgID, id); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
