package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/auth"
	"github.com/xdeploy/xdeploy/pkg/httputil"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 128
)

// AuthHandlers serves the public authentication routes. Enumeration-
// sensitive routes always answer with the generic success shape.
type AuthHandlers struct {
	svc AuthService
}

// NewAuthHandlers creates the auth handler group.
func NewAuthHandlers(svc AuthService) *AuthHandlers {
	return &AuthHandlers{svc: svc}
}

// RegisterRoutes registers the public authentication routes.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/register", h.Register).Methods("POST")
	router.HandleFunc("/auth/login", h.Login).Methods("POST")
	router.HandleFunc("/auth/2fa", h.TwoFactor).Methods("POST")
	router.HandleFunc("/auth/2fa/recovery", h.TwoFactorRecovery).Methods("POST")
	router.HandleFunc("/auth/magic-link", h.MagicLink).Methods("POST")
	router.HandleFunc("/auth/magic-link/exchange", h.ExchangeMagicLink).Methods("POST")
	router.HandleFunc("/auth/forgot-password", h.ForgotPassword).Methods("POST")
	router.HandleFunc("/auth/reset-password", h.ResetPassword).Methods("POST")

	// The token in the body authenticates this one, so it is public.
	router.HandleFunc("/account/verify-email", h.VerifyEmail).Methods("POST")
}

type registerRequest struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return apierror.Validation("password must be at least 8 characters")
	}
	if len(password) > maxPasswordLen {
		return apierror.Validation("password is too long")
	}
	return nil
}

func validateEmail(email string) error {
	at := strings.IndexByte(email, '@')
	if at < 1 || at == len(email)-1 {
		return apierror.Validation("email address is invalid")
	}
	return nil
}

// Register handles POST /auth/register.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Firstname == "" || req.Lastname == "" {
		httputil.WriteAPIError(w, apierror.Validation("firstname and lastname are required"))
		return
	}
	if err := validateEmail(req.Email); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	if err := validatePassword(req.Password); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	if err := h.svc.Register(r.Context(), auth.RegisterInput{
		Firstname: req.Firstname,
		Lastname:  req.Lastname,
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  req.Password,
	}); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "registered"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenResponse carries a minted token. Purpose distinguishes a session
// from a two-factor challenge.
type tokenResponse struct {
	Token   string `json:"token"`
	Purpose string `json:"purpose"`
}

// Login handles POST /auth/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	if res.TwoFactorRequired {
		httputil.WriteSuccess(w, tokenResponse{Token: res.ChallengeToken, Purpose: string(auth.PurposeTwoFactorChallenge)})
		return
	}
	httputil.WriteSuccess(w, tokenResponse{Token: res.SessionToken, Purpose: string(auth.PurposeSession)})
}

// TwoFactor handles POST /auth/2fa.
func (h *AuthHandlers) TwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
		Code  string `json:"code"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session, err := h.svc.TwoFactor(r.Context(), req.Token, req.Code)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, tokenResponse{Token: session, Purpose: string(auth.PurposeSession)})
}

// TwoFactorRecovery handles POST /auth/2fa/recovery.
func (h *AuthHandlers) TwoFactorRecovery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token        string `json:"token"`
		RecoveryCode string `json:"recoveryCode"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session, err := h.svc.TwoFactorRecovery(r.Context(), req.Token, req.RecoveryCode)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, tokenResponse{Token: session, Purpose: string(auth.PurposeSession)})
}

// MagicLink handles POST /auth/magic-link. The response never reveals
// whether the email exists.
func (h *AuthHandlers) MagicLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.svc.MagicLink(r.Context(), req.Email); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "sent"})
}

// ExchangeMagicLink handles POST /auth/magic-link/exchange.
func (h *AuthHandlers) ExchangeMagicLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session, err := h.svc.ExchangeMagicLink(r.Context(), req.Token)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, tokenResponse{Token: session, Purpose: string(auth.PurposeSession)})
}

// ForgotPassword handles POST /auth/forgot-password with the same
// enumeration-resistant shape as MagicLink.
func (h *AuthHandlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "sent"})
}

// ResetPassword handles POST /auth/reset-password.
func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := validatePassword(req.NewPassword); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "reset"})
}

// VerifyEmail handles POST /account/verify-email.
func (h *AuthHandlers) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.svc.VerifyEmail(r.Context(), req.Token); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "verified"})
}
