package middleware

import (
	"context"
	"net/http"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/auth"
	"github.com/xdeploy/xdeploy/pkg/contextkeys"
	"github.com/xdeploy/xdeploy/pkg/httputil"
	"github.com/xdeploy/xdeploy/pkg/observability"
	"github.com/xdeploy/xdeploy/pkg/policy"
)

const apiKeyHeader = "X-API-Key"

// SessionValidator validates a session bearer token to a user id.
type SessionValidator interface {
	Validate(ctx context.Context, token string, purpose auth.Purpose) (string, error)
}

// APIKeyAuthenticator resolves an API key secret to a machine principal.
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, secret string) (*policy.Principal, error)
}

// Authenticate resolves the request's principal from a session bearer token
// or an X-API-Key header and stores it in the context. Requests carrying
// neither are rejected; only session-purpose tokens open a user principal.
func Authenticate(tokens SessionValidator, keys APIKeyAuthenticator, m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *policy.Principal

			switch {
			case r.Header.Get(apiKeyHeader) != "":
				p, err := keys.Authenticate(r.Context(), r.Header.Get(apiKeyHeader))
				if err != nil {
					m.AuthFailures.WithLabelValues("api_key").Inc()
					httputil.WriteAPIError(w, err)
					return
				}
				principal = p

			case httputil.BearerToken(r) != "":
				userID, err := tokens.Validate(r.Context(), httputil.BearerToken(r), auth.PurposeSession)
				if err != nil {
					m.AuthFailures.WithLabelValues("session").Inc()
					httputil.WriteAPIError(w, err)
					return
				}
				principal = &policy.Principal{UserID: userID}

			default:
				m.AuthFailures.WithLabelValues("missing_credentials").Inc()
				httputil.WriteAPIError(w, apierror.Unauthorized("authentication required"))
				return
			}

			next.ServeHTTP(w, r.WithContext(contextkeys.WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireUser rejects machine principals. Account and organization
// management endpoints are user-only.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := contextkeys.Principal(r.Context())
		if p == nil {
			httputil.WriteAPIError(w, apierror.Unauthorized("authentication required"))
			return
		}
		if p.IsAPIKey() {
			httputil.WriteAPIError(w, apierror.Forbidden("api keys cannot access this endpoint"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
