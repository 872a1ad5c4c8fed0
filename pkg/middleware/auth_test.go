package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/auth"
	"github.com/xdeploy/xdeploy/pkg/contextkeys"
	"github.com/xdeploy/xdeploy/pkg/observability"
	"github.com/xdeploy/xdeploy/pkg/policy"
)

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

type fakeTokens struct {
	userID string
	err    error
}

func (f *fakeTokens) Validate(_ context.Context, _ string, purpose auth.Purpose) (string, error) {
	if purpose != auth.PurposeSession {
		return "", apierror.Unauthorized("token not valid for this operation")
	}
	return f.userID, f.err
}

type fakeKeys struct {
	principal *policy.Principal
	err       error
}

func (f *fakeKeys) Authenticate(context.Context, string) (*policy.Principal, error) {
	return f.principal, f.err
}

func capturePrincipal(t *testing.T, captured **policy.Principal) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = contextkeys.Principal(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateSessionToken(t *testing.T) {
	var got *policy.Principal
	h := Authenticate(&fakeTokens{userID: "u1"}, &fakeKeys{}, testMetrics())(capturePrincipal(t, &got))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer some.jwt.token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)
	assert.False(t, got.IsAPIKey())
}

func TestAuthenticateAPIKey(t *testing.T) {
	var got *policy.Principal
	h := Authenticate(&fakeTokens{}, &fakeKeys{principal: &policy.Principal{
		APIKeyID: "k1", OrganizationID: "org1",
	}}, testMetrics())(capturePrincipal(t, &got))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "xdp_secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.True(t, got.IsAPIKey())
	assert.Equal(t, "org1", got.OrganizationID)
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	var got *policy.Principal
	m := testMetrics()
	h := Authenticate(&fakeTokens{userID: "u1"}, &fakeKeys{}, m)(capturePrincipal(t, &got))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthFailures.WithLabelValues("missing_credentials")))
}

func TestAuthenticateRejectedToken(t *testing.T) {
	m := testMetrics()
	h := Authenticate(&fakeTokens{err: apierror.Unauthorized("token expired")}, &fakeKeys{}, m)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer expired.jwt")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token expired")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthFailures.WithLabelValues("session")))
}

func TestAuthenticateRejectedAPIKey(t *testing.T) {
	m := testMetrics()
	h := Authenticate(&fakeTokens{}, &fakeKeys{err: apierror.Unauthorized("invalid api key")}, m)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "xdp_wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthFailures.WithLabelValues("api_key")))
}

func TestRequireUser(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// User principal passes.
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(contextkeys.WithPrincipal(r.Context(), &policy.Principal{UserID: "u1"}))
	rec := httptest.NewRecorder()
	RequireUser(ok).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	// API key principal is forbidden.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(contextkeys.WithPrincipal(r.Context(), &policy.Principal{APIKeyID: "k1"}))
	rec = httptest.NewRecorder()
	RequireUser(ok).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// No principal is unauthorized.
	rec = httptest.NewRecorder()
	RequireUser(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
