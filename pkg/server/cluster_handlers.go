package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/deploy"
	"github.com/xdeploy/xdeploy/pkg/httputil"
	"github.com/xdeploy/xdeploy/pkg/policy"
)

// ClusterHandlers serves deployment dispatch and the cloud resource
// listings. The organization is carried in the body (deploy) or as the
// organizationId query parameter (listings); API key principals are pinned
// to their own organization.
type ClusterHandlers struct {
	deploys DeployService
	clouds  CloudService
	authz   Authorizer
}

// NewClusterHandlers creates the cluster handler group.
func NewClusterHandlers(deploys DeployService, clouds CloudService, authz Authorizer) *ClusterHandlers {
	return &ClusterHandlers{deploys: deploys, clouds: clouds, authz: authz}
}

// RegisterRoutes registers the cluster and cloud listing routes.
func (h *ClusterHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/clusters/deploy", h.Deploy).Methods("POST")
	router.HandleFunc("/clusters/{projectId}", h.ListClusters).Methods("GET")
	router.HandleFunc("/projects", h.ListProjects).Methods("GET")
	router.HandleFunc("/regions", h.ListRegions).Methods("GET")
	router.HandleFunc("/instance-types", h.ListInstanceTypes).Methods("GET")
}

// resolveOrg determines the organization a cluster request acts on. API key
// principals always act in their own organization; users must name one.
func resolveOrg(p *policy.Principal, requested string) (string, error) {
	if p.IsAPIKey() {
		if requested != "" && requested != p.OrganizationID {
			return "", apierror.Forbidden("insufficient permissions")
		}
		return p.OrganizationID, nil
	}
	if requested == "" {
		return "", apierror.Validation("organizationId is required")
	}
	return requested, nil
}

// Deploy handles POST /clusters/deploy.
func (h *ClusterHandlers) Deploy(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req deploy.Request
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	orgID, err := resolveOrg(p, req.OrganizationID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	req.OrganizationID = orgID

	if err := h.authz.Authorize(r.Context(), p, orgID, policy.Perm(policy.NounDeployment, policy.VerbWrite)); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	result, err := h.deploys.Dispatch(r.Context(), req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// listOrg authorizes cluster:read for the organization named in the query.
func (h *ClusterHandlers) listOrg(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := principal(w, r)
	if !ok {
		return "", false
	}
	orgID, err := resolveOrg(p, httputil.ParseQueryString(r, "organizationId", ""))
	if err != nil {
		httputil.WriteAPIError(w, err)
		return "", false
	}
	if err := h.authz.Authorize(r.Context(), p, orgID, policy.Perm(policy.NounCluster, policy.VerbRead)); err != nil {
		httputil.WriteAPIError(w, err)
		return "", false
	}
	return orgID, true
}

// ListProjects handles GET /projects: the organization's cloud projects.
func (h *ClusterHandlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.listOrg(w, r)
	if !ok {
		return
	}

	list, err := h.clouds.ListProjects(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// ListClusters handles GET /clusters/{projectId}.
func (h *ClusterHandlers) ListClusters(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.listOrg(w, r)
	if !ok {
		return
	}
	projectID, ok := httputil.ParsePathStringOrError(w, r, "projectId")
	if !ok {
		return
	}

	list, err := h.clouds.ListClusters(r.Context(), orgID, projectID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// ListRegions handles GET /regions?projectId=.
func (h *ClusterHandlers) ListRegions(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.listOrg(w, r)
	if !ok {
		return
	}
	projectID := httputil.ParseQueryString(r, "projectId", "")
	if projectID == "" {
		httputil.WriteAPIError(w, apierror.Validation("projectId is required"))
		return
	}

	list, err := h.clouds.ListRegions(r.Context(), orgID, projectID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// ListInstanceTypes handles GET /instance-types?projectId=&region=.
func (h *ClusterHandlers) ListInstanceTypes(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.listOrg(w, r)
	if !ok {
		return
	}
	projectID := httputil.ParseQueryString(r, "projectId", "")
	if projectID == "" {
		httputil.WriteAPIError(w, apierror.Validation("projectId is required"))
		return
	}
	region := httputil.ParseQueryString(r, "region", "")

	list, err := h.clouds.ListInstanceTypes(r.Context(), orgID, projectID, region)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}
