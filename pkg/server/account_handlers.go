package server

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/httputil"
	"github.com/xdeploy/xdeploy/pkg/middleware"
)

// AccountHandlers serves the authenticated user's own account: profile,
// password, phone, second factor and profile picture. These routes are
// user-only; API keys are rejected.
type AccountHandlers struct {
	svc     AuthService
	avatars AvatarStore
	orgs    OrgService
}

// NewAccountHandlers creates the account handler group.
func NewAccountHandlers(svc AuthService, avatars AvatarStore, orgs OrgService) *AccountHandlers {
	return &AccountHandlers{svc: svc, avatars: avatars, orgs: orgs}
}

// RegisterRoutes registers the JSON account routes.
func (h *AccountHandlers) RegisterRoutes(router *mux.Router) {
	sub := router.PathPrefix("/account").Subrouter()
	sub.Use(mux.MiddlewareFunc(middleware.RequireUser))

	sub.HandleFunc("", h.GetAccount).Methods("GET")
	sub.HandleFunc("/change-password", h.ChangePassword).Methods("POST")
	sub.HandleFunc("/change-phone", h.ChangePhone).Methods("POST")
	sub.HandleFunc("/invitations", h.ListInvitations).Methods("GET")

	sub.HandleFunc("/2fa", h.TwoFactorInfo).Methods("GET")
	sub.HandleFunc("/2fa/setup", h.SetupTwoFactor).Methods("POST")
	sub.HandleFunc("/2fa/enable", h.EnableTwoFactor).Methods("POST")
	sub.HandleFunc("/2fa/disable", h.DisableTwoFactor).Methods("POST")

	sub.HandleFunc("/profile-picture", h.GetAvatar).Methods("GET")
	sub.HandleFunc("/profile-picture", h.DeleteAvatar).Methods("DELETE")
}

// RegisterUploadRoutes registers the multipart routes, which carry a larger
// body cap than the JSON ones.
func (h *AccountHandlers) RegisterUploadRoutes(router *mux.Router) {
	sub := router.PathPrefix("/account").Subrouter()
	sub.Use(mux.MiddlewareFunc(middleware.RequireUser))

	sub.HandleFunc("/profile-picture", h.UploadAvatar).Methods("POST")
}

// GetAccount handles GET /account.
func (h *AccountHandlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	user, err := h.svc.GetAccount(r.Context(), p.UserID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// ChangePassword handles POST /account/change-password.
func (h *AccountHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := validatePassword(req.NewPassword); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	if err := h.svc.ChangePassword(r.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "changed"})
}

// ChangePhone handles POST /account/change-phone. Kept from an older API
// surface; the new number goes back to unverified.
func (h *AccountHandlers) ChangePhone(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Phone string `json:"phone"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Phone == "" {
		httputil.WriteAPIError(w, apierror.Validation("phone number is required"))
		return
	}

	if err := h.svc.ChangePhone(r.Context(), p.UserID, req.Phone); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "changed"})
}

// ListInvitations handles GET /account/invitations: pending invitations
// addressed to the authenticated user's email.
func (h *AccountHandlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	invitations, err := h.orgs.ListInvitationsForUser(r.Context(), p.UserID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, invitations)
}

// TwoFactorInfo handles GET /account/2fa.
func (h *AccountHandlers) TwoFactorInfo(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	info, err := h.svc.GetTwoFactorInfo(r.Context(), p.UserID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, info)
}

// SetupTwoFactor handles POST /account/2fa/setup.
func (h *AccountHandlers) SetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	setup, err := h.svc.SetupTwoFactor(r.Context(), p.UserID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{
		"secret":          setup.Secret,
		"provisioningUri": setup.ProvisioningURI,
		"qrCode":          setup.QRCodePNG,
	})
}

// EnableTwoFactor handles POST /account/2fa/enable. The recovery codes in
// the response are shown exactly once.
func (h *AccountHandlers) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	codes, err := h.svc.EnableTwoFactor(r.Context(), p.UserID, req.Code)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"status":        "enabled",
		"recoveryCodes": codes,
	})
}

// DisableTwoFactor handles POST /account/2fa/disable. Accepts a current
// TOTP code or a recovery code.
func (h *AccountHandlers) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.svc.DisableTwoFactor(r.Context(), p.UserID, req.Code); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "disabled"})
}

// UploadAvatar handles POST /account/profile-picture (multipart, field
// "picture", max 5 MiB, png or jpeg).
func (h *AccountHandlers) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	file, _, err := r.FormFile("picture")
	if err != nil {
		httputil.WriteBadRequest(w, "multipart field 'picture' is required")
		return
	}
	defer file.Close()

	if err := h.avatars.PutAvatar(r.Context(), p.UserID, file); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "uploaded"})
}

// GetAvatar handles GET /account/profile-picture, streaming the stored
// image back.
func (h *AccountHandlers) GetAvatar(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	body, contentType, err := h.avatars.GetAvatar(r.Context(), p.UserID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}

// DeleteAvatar handles DELETE /account/profile-picture.
func (h *AccountHandlers) DeleteAvatar(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.avatars.DeleteAvatar(r.Context(), p.UserID); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
