// Package server is the HTTP boundary: it wires the router, the middleware
// chain and the per-concern handler groups, and maps domain errors to
// status codes through httputil.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/contextkeys"
	"github.com/xdeploy/xdeploy/pkg/httputil"
	"github.com/xdeploy/xdeploy/pkg/middleware"
	"github.com/xdeploy/xdeploy/pkg/objects"
	"github.com/xdeploy/xdeploy/pkg/observability"
	"github.com/xdeploy/xdeploy/pkg/policy"
)

// maxBodyBytes caps JSON request bodies. Profile pictures have their own
// larger cap applied on the multipart routes.
const (
	maxBodyBytes   = 1 << 20
	maxUploadBytes = objects.MaxAvatarBytes + (64 << 10)
)

// Authorizer answers "may this principal perform this action in this
// organization". Implemented by policy.Engine.
type Authorizer interface {
	Authorize(ctx context.Context, principal *policy.Principal, orgID string, required policy.Permission) error
}

// Deps carries everything the server needs. All fields are required unless
// noted.
type Deps struct {
	Auth        AuthService
	Avatars     AvatarStore
	Orgs        OrgService
	Projects    ProjectService
	APIKeys     APIKeyService
	Credentials CredentialService
	Deploys     DeployService
	Clouds      CloudService
	Tokens      middleware.SessionValidator
	Keys        middleware.APIKeyAuthenticator
	Authorizer  Authorizer
	Log         *logrus.Logger
	Metrics     *observability.Metrics
	Health      *observability.HealthChecker
}

// Server is the HTTP API server.
type Server struct {
	router *mux.Router
	log    *logrus.Logger
}

// NewServer builds the router and registers every route group.
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		log:    deps.Log,
	}

	s.router.Use(
		mux.MiddlewareFunc(middleware.RequestID),
		mux.MiddlewareFunc(middleware.Recovery(deps.Log)),
		mux.MiddlewareFunc(middleware.Logging(deps.Log)),
		mux.MiddlewareFunc(middleware.Metrics(deps.Metrics)),
	)

	// Operational endpoints, no authentication.
	s.router.HandleFunc("/health/live", deps.Health.Liveness).Methods("GET")
	s.router.HandleFunc("/health/ready", deps.Health.Readiness).Methods("GET")
	s.router.Handle("/metrics", deps.Metrics.Handler()).Methods("GET")

	// Public authentication routes. Tokens in bodies authenticate these.
	public := s.router.PathPrefix("").Subrouter()
	public.Use(mux.MiddlewareFunc(middleware.MaxBytes(maxBodyBytes)))
	NewAuthHandlers(deps.Auth).RegisterRoutes(public)

	// Everything else requires a session token or an API key.
	authed := s.router.PathPrefix("").Subrouter()
	authed.Use(
		mux.MiddlewareFunc(middleware.MaxBytes(maxBodyBytes)),
		mux.MiddlewareFunc(middleware.Authenticate(deps.Tokens, deps.Keys, deps.Metrics)),
	)

	// Multipart uploads get their own, larger body cap.
	uploads := s.router.PathPrefix("").Subrouter()
	uploads.Use(
		mux.MiddlewareFunc(middleware.MaxBytes(maxUploadBytes)),
		mux.MiddlewareFunc(middleware.Authenticate(deps.Tokens, deps.Keys, deps.Metrics)),
	)

	account := NewAccountHandlers(deps.Auth, deps.Avatars, deps.Orgs)
	account.RegisterRoutes(authed)
	account.RegisterUploadRoutes(uploads)
	NewOrgHandlers(deps.Orgs, deps.Authorizer).RegisterRoutes(authed)
	NewProjectHandlers(deps.Projects, deps.Authorizer).RegisterRoutes(authed)
	NewAPIKeyHandlers(deps.APIKeys, deps.Authorizer).RegisterRoutes(authed)
	NewCredentialHandlers(deps.Credentials, deps.Authorizer).RegisterRoutes(authed)
	NewClusterHandlers(deps.Deploys, deps.Clouds, deps.Authorizer).RegisterRoutes(authed)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// principal returns the authenticated principal or writes a 401.
func principal(w http.ResponseWriter, r *http.Request) (*policy.Principal, bool) {
	p := contextkeys.Principal(r.Context())
	if p == nil {
		httputil.WriteAPIError(w, apierror.Unauthorized("authentication required"))
		return nil, false
	}
	return p, true
}

// authorize resolves the org path variable and checks the permission,
// writing the error response on failure.
func authorize(w http.ResponseWriter, r *http.Request, authz Authorizer, required policy.Permission) (orgID string, ok bool) {
	p, ok := principal(w, r)
	if !ok {
		return "", false
	}
	orgID, ok = httputil.ParsePathStringOrError(w, r, "orgId")
	if !ok {
		return "", false
	}
	if err := authz.Authorize(r.Context(), p, orgID, required); err != nil {
		httputil.WriteAPIError(w, err)
		return "", false
	}
	return orgID, true
}
