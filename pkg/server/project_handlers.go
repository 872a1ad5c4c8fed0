package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xdeploy/xdeploy/pkg/httputil"
	"github.com/xdeploy/xdeploy/pkg/policy"
)

// ProjectHandlers serves org-scoped project CRUD.
type ProjectHandlers struct {
	svc   ProjectService
	authz Authorizer
}

// NewProjectHandlers creates the project handler group.
func NewProjectHandlers(svc ProjectService, authz Authorizer) *ProjectHandlers {
	return &ProjectHandlers{svc: svc, authz: authz}
}

// RegisterRoutes registers the project routes.
func (h *ProjectHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organization/{orgId}/projects", h.List).Methods("GET")
	router.HandleFunc("/organization/{orgId}/projects", h.Create).Methods("POST")
	router.HandleFunc("/organization/{orgId}/project/{id}", h.Get).Methods("GET")
	router.HandleFunc("/organization/{orgId}/project/{id}", h.Update).Methods("PUT")
	router.HandleFunc("/organization/{orgId}/project/{id}", h.Delete).Methods("DELETE")
	router.HandleFunc("/organization/{orgId}/project/{id}/logo", h.UpdateLogo).Methods("PUT")
}

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// List handles GET /organization/{orgId}/projects.
func (h *ProjectHandlers) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounProject, policy.VerbRead))
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

// Create handles POST /organization/{orgId}/projects.
func (h *ProjectHandlers) Create(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounProject, policy.VerbWrite))
	if !ok {
		return
	}
	var req projectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	project, err := h.svc.Create(r.Context(), orgID, req.Name, req.Description)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteCreated(w, project)
}

// Get handles GET /organization/{orgId}/project/{id}.
func (h *ProjectHandlers) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounProject, policy.VerbRead))
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	project, err := h.svc.Get(r.Context(), orgID, id)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

// Update handles PUT /organization/{orgId}/project/{id}.
func (h *ProjectHandlers) Update(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounProject, policy.VerbWrite))
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req projectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	project, err := h.svc.Update(r.Context(), orgID, id, req.Name, req.Description)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

// UpdateLogo handles PUT /organization/{orgId}/project/{id}/logo.
func (h *ProjectHandlers) UpdateLogo(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounProject, policy.VerbWrite))
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		LogoURL string `json:"logoUrl"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.svc.UpdateLogo(r.Context(), orgID, id, req.LogoURL); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "updated"})
}

// Delete handles DELETE /organization/{orgId}/project/{id}.
func (h *ProjectHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounProject, policy.VerbDelete))
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
