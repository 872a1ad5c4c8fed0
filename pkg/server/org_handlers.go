package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/httputil"
	"github.com/xdeploy/xdeploy/pkg/orgs"
	"github.com/xdeploy/xdeploy/pkg/policy"
)

// OrgHandlers serves organizations, memberships, invitations and custom
// roles. Every org-scoped route goes through the policy engine.
type OrgHandlers struct {
	svc   OrgService
	authz Authorizer
}

// NewOrgHandlers creates the organization handler group.
func NewOrgHandlers(svc OrgService, authz Authorizer) *OrgHandlers {
	return &OrgHandlers{svc: svc, authz: authz}
}

// RegisterRoutes registers the organization routes.
func (h *OrgHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organization", h.Create).Methods("POST")
	router.HandleFunc("/organization", h.ListMine).Methods("GET")
	router.HandleFunc("/organization/{orgId}", h.Get).Methods("GET")
	router.HandleFunc("/organization/{orgId}", h.Update).Methods("PUT")
	router.HandleFunc("/organization/{orgId}", h.Delete).Methods("DELETE")
	router.HandleFunc("/organization/{orgId}/logo", h.UpdateLogo).Methods("PUT")

	router.HandleFunc("/organization/{orgId}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/organization/{orgId}/member/{userId}", h.RemoveMember).Methods("DELETE")
	router.HandleFunc("/organization/{orgId}/member/{userId}/role", h.UpdateMemberRole).Methods("PUT")
	router.HandleFunc("/organization/{orgId}/transfer", h.TransferOwnership).Methods("POST")

	router.HandleFunc("/organization/{orgId}/invitations", h.ListInvitations).Methods("GET")
	router.HandleFunc("/organization/{orgId}/invitations", h.Invite).Methods("POST")
	router.HandleFunc("/organization/{orgId}/invitation/{id}", h.GetInvitation).Methods("GET")
	router.HandleFunc("/organization/{orgId}/invitation/{id}", h.RevokeInvitation).Methods("DELETE")
	router.HandleFunc("/organization/{orgId}/invitation/{id}/reply", h.ReplyInvitation).Methods("POST")

	router.HandleFunc("/organization/{orgId}/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/organization/{orgId}/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/organization/{orgId}/role/{roleId}", h.GetRole).Methods("GET")
	router.HandleFunc("/organization/{orgId}/role/{roleId}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/organization/{orgId}/role/{roleId}", h.DeleteRole).Methods("DELETE")
}

// user returns the principal if it is a user, rejecting API keys. Routes
// that act as a specific person (creating orgs, replying to invitations,
// transferring ownership) cannot be driven by a machine principal.
func user(w http.ResponseWriter, r *http.Request) (*policy.Principal, bool) {
	p, ok := principal(w, r)
	if !ok {
		return nil, false
	}
	if p.IsAPIKey() {
		httputil.WriteAPIError(w, apierror.Forbidden("api keys cannot access this endpoint"))
		return nil, false
	}
	return p, true
}

type organizationRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Website      string `json:"website"`
	ContactEmail string `json:"contactEmail"`
}

// Create handles POST /organization. The creator becomes the owner.
func (h *OrgHandlers) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := user(w, r)
	if !ok {
		return
	}
	var req organizationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.svc.Create(r.Context(), p.UserID, orgs.CreateOrganizationInput{
		Name:         req.Name,
		Description:  req.Description,
		Website:      req.Website,
		ContactEmail: req.ContactEmail,
	})
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteCreated(w, org)
}

// ListMine handles GET /organization: the organizations the caller belongs to.
func (h *OrgHandlers) ListMine(w http.ResponseWriter, r *http.Request) {
	p, ok := user(w, r)
	if !ok {
		return
	}

	list, err := h.svc.ListForUser(r.Context(), p.UserID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// Get handles GET /organization/{orgId}.
func (h *OrgHandlers) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounOrganization, policy.VerbRead))
	if !ok {
		return
	}

	org, err := h.svc.Get(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// Update handles PUT /organization/{orgId}.
func (h *OrgHandlers) Update(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounOrganization, policy.VerbWrite))
	if !ok {
		return
	}
	var req organizationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.svc.Update(r.Context(), orgID, orgs.UpdateOrganizationInput{
		Name:         req.Name,
		Description:  req.Description,
		Website:      req.Website,
		ContactEmail: req.ContactEmail,
	})
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// UpdateLogo handles PUT /organization/{orgId}/logo.
func (h *OrgHandlers) UpdateLogo(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounOrganization, policy.VerbWrite))
	if !ok {
		return
	}
	var req struct {
		LogoURL string `json:"logoUrl"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.svc.UpdateLogo(r.Context(), orgID, req.LogoURL); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "updated"})
}

// Delete handles DELETE /organization/{orgId}.
func (h *OrgHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounOrganization, policy.VerbDelete))
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), orgID); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListMembers handles GET /organization/{orgId}/members.
func (h *OrgHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounMember, policy.VerbRead))
	if !ok {
		return
	}

	members, err := h.svc.ListMembers(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

// RemoveMember handles DELETE /organization/{orgId}/member/{userId}.
func (h *OrgHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounMember, policy.VerbDelete))
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}

	if err := h.svc.RemoveMember(r.Context(), orgID, userID); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// UpdateMemberRole handles PUT /organization/{orgId}/member/{userId}/role.
func (h *OrgHandlers) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounMember, policy.VerbAdmin))
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.svc.UpdateMemberRole(r.Context(), orgID, userID, req.Role); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "updated"})
}

// TransferOwnership handles POST /organization/{orgId}/transfer. Only the
// current owner may transfer; the service enforces that.
func (h *OrgHandlers) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	p, ok := user(w, r)
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgId")
	if !ok {
		return
	}
	var req struct {
		ToUserID string `json:"toUserId"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.svc.TransferOwnership(r.Context(), orgID, p.UserID, req.ToUserID); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "transferred"})
}

// ListInvitations handles GET /organization/{orgId}/invitations.
func (h *OrgHandlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounInvitation, policy.VerbRead))
	if !ok {
		return
	}

	invitations, err := h.svc.ListInvitations(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, invitations)
}

// Invite handles POST /organization/{orgId}/invitations.
func (h *OrgHandlers) Invite(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounInvitation, policy.VerbWrite))
	if !ok {
		return
	}
	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := validateEmail(req.Email); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	invitation, err := h.svc.Invite(r.Context(), orgID, p.UserID, req.Email, req.Role)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteCreated(w, invitation)
}

// GetInvitation handles GET /organization/{orgId}/invitation/{id}.
func (h *OrgHandlers) GetInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounInvitation, policy.VerbRead))
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	invitation, err := h.svc.GetInvitation(r.Context(), orgID, id)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, invitation)
}

// RevokeInvitation handles DELETE /organization/{orgId}/invitation/{id}.
func (h *OrgHandlers) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounInvitation, policy.VerbDelete))
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

// ReplyInvitation handles POST /organization/{orgId}/invitation/{id}/reply.
// The invitee is not yet a member, so there is no permission check here;
// the service verifies the invitation is addressed to the caller's email.
func (h *OrgHandlers) ReplyInvitation(w http.ResponseWriter, r *http.Request) {
	p, ok := user(w, r)
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgId")
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Action != "accept" && req.Action != "refuse" {
		httputil.WriteAPIError(w, apierror.Validation("action must be 'accept' or 'refuse'"))
		return
	}

	accept := req.Action == "accept"
	if err := h.svc.Reply(r.Context(), orgID, id, p.UserID, accept); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	status := "refused"
	if accept {
		status = "accepted"
	}
	httputil.WriteSuccess(w, map[string]string{"status": status})
}

type roleRequest struct {
	Name        string              `json:"name"`
	Permissions []policy.Permission `json:"permissions"`
	Denies      []policy.Permission `json:"denies,omitempty"`
}

// ListRoles handles GET /organization/{orgId}/roles.
func (h *OrgHandlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounMember, policy.VerbRead))
	if !ok {
		return
	}

	roles, err := h.svc.ListRoles(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// CreateRole handles POST /organization/{orgId}/roles.
func (h *OrgHandlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounMember, policy.VerbAdmin))
	if !ok {
		return
	}
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.svc.CreateRole(r.Context(), orgID, req.Name, req.Permissions, req.Denies)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// GetRole handles GET /organization/{orgId}/role/{roleId}.
func (h *OrgHandlers) GetRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounMember, policy.VerbRead))
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}

	role, err := h.svc.GetRole(r.Context(), orgID, roleID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole handles PUT /organization/{orgId}/role/{roleId}.
func (h *OrgHandlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounMember, policy.VerbAdmin))
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.svc.UpdateRole(r.Context(), orgID, roleID, req.Permissions, req.Denies)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole handles DELETE /organization/{orgId}/role/{roleId}.
func (h *OrgHandlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := authorize(w, r, h.authz, policy.Perm(policy.NounMember, policy.VerbAdmin))
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}

	if err := h.svc.DeleteRole(r.Context(), orgID, roleID); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
