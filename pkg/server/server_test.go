package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/apikeys"
	"github.com/xdeploy/xdeploy/pkg/auth"
	"github.com/xdeploy/xdeploy/pkg/cloud"
	"github.com/xdeploy/xdeploy/pkg/deploy"
	"github.com/xdeploy/xdeploy/pkg/observability"
	"github.com/xdeploy/xdeploy/pkg/orgs"
	"github.com/xdeploy/xdeploy/pkg/policy"
	"github.com/xdeploy/xdeploy/pkg/projects"
	"github.com/xdeploy/xdeploy/pkg/vault"
)

// fakeAuth lets each test plug in just the behaviors it needs.
type fakeAuth struct {
	registerFn func(ctx context.Context, in auth.RegisterInput) error
	loginFn    func(ctx context.Context, email, password string) (*auth.LoginResult, error)
	accountFn  func(ctx context.Context, userID string) (*auth.User, error)
}

func (f *fakeAuth) Register(ctx context.Context, in auth.RegisterInput) error {
	if f.registerFn != nil {
		return f.registerFn(ctx, in)
	}
	return nil
}

func (f *fakeAuth) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	if f.loginFn != nil {
		return f.loginFn(ctx, email, password)
	}
	return nil, apierror.Unauthorized("invalid credentials")
}

func (f *fakeAuth) TwoFactor(context.Context, string, string) (string, error) {
	return "", apierror.Unauthorized("invalid credentials")
}

func (f *fakeAuth) TwoFactorRecovery(context.Context, string, string) (string, error) {
	return "", apierror.Unauthorized("invalid credentials")
}

func (f *fakeAuth) MagicLink(context.Context, string) error { return nil }

func (f *fakeAuth) ExchangeMagicLink(context.Context, string) (string, error) {
	return "", apierror.Unauthorized("invalid credentials")
}

func (f *fakeAuth) ForgotPassword(context.Context, string) error { return nil }

func (f *fakeAuth) ResetPassword(context.Context, string, string) error {
	return apierror.Unauthorized("invalid credentials")
}

func (f *fakeAuth) VerifyEmail(context.Context, string) error { return nil }

func (f *fakeAuth) GetAccount(ctx context.Context, userID string) (*auth.User, error) {
	if f.accountFn != nil {
		return f.accountFn(ctx, userID)
	}
	return &auth.User{ID: userID, Firstname: "Jane", Email: auth.Email{Address: "jane@example.com"}}, nil
}

func (f *fakeAuth) ChangePassword(context.Context, string, string, string) error { return nil }
func (f *fakeAuth) ChangePhone(context.Context, string, string) error            { return nil }

func (f *fakeAuth) GetTwoFactorInfo(context.Context, string) (*auth.TwoFactorInfo, error) {
	return &auth.TwoFactorInfo{Enabled: false}, nil
}

func (f *fakeAuth) SetupTwoFactor(context.Context, string) (*auth.TOTPSetup, error) {
	return &auth.TOTPSetup{Secret: "SECRET", ProvisioningURI: "otpauth://totp/x"}, nil
}

func (f *fakeAuth) EnableTwoFactor(context.Context, string, string) ([]string, error) {
	return []string{"code-one", "code-two"}, nil
}

func (f *fakeAuth) DisableTwoFactor(context.Context, string, string) error { return nil }

type fakeAvatars struct {
	put map[string][]byte
}

func (f *fakeAvatars) PutAvatar(_ context.Context, userID string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if f.put == nil {
		f.put = map[string][]byte{}
	}
	f.put[userID] = data
	return nil
}

func (f *fakeAvatars) GetAvatar(_ context.Context, userID string) (io.ReadCloser, string, error) {
	data, ok := f.put[userID]
	if !ok {
		return nil, "", apierror.NotFound("no profile picture")
	}
	return io.NopCloser(bytes.NewReader(data)), "image/png", nil
}

func (f *fakeAvatars) DeleteAvatar(_ context.Context, userID string) error {
	delete(f.put, userID)
	return nil
}

type fakeOrgs struct {
	OrgService
	getFn   func(ctx context.Context, orgID string) (*orgs.Organization, error)
	replyFn func(ctx context.Context, orgID, invitationID, userID string, accept bool) error
}

func (f *fakeOrgs) Get(ctx context.Context, orgID string) (*orgs.Organization, error) {
	if f.getFn != nil {
		return f.getFn(ctx, orgID)
	}
	return &orgs.Organization{ID: orgID, Name: "acme"}, nil
}

func (f *fakeOrgs) Reply(ctx context.Context, orgID, invitationID, userID string, accept bool) error {
	if f.replyFn != nil {
		return f.replyFn(ctx, orgID, invitationID, userID, accept)
	}
	return nil
}

func (f *fakeOrgs) ListInvitationsForUser(context.Context, string) ([]*orgs.Invitation, error) {
	return []*orgs.Invitation{}, nil
}

type fakeProjects struct{ ProjectService }

func (f *fakeProjects) List(_ context.Context, orgID string) ([]*projects.Project, error) {
	return []*projects.Project{{ID: "p1", OrganizationID: orgID, Name: "web"}}, nil
}

func (f *fakeProjects) Create(_ context.Context, orgID, name, description string) (*projects.Project, error) {
	return &projects.Project{ID: "p2", OrganizationID: orgID, Name: name, Description: description}, nil
}

type fakeAPIKeys struct{ APIKeyService }

func (f *fakeAPIKeys) Create(_ context.Context, orgID, name string, perms []policy.Permission, expiresAt *time.Time) (*apikeys.Key, string, error) {
	return &apikeys.Key{ID: "k1", OrganizationID: orgID, Name: name, Permissions: perms}, "xdp_secret", nil
}

type fakeCredentials struct{ CredentialService }

func (f *fakeCredentials) List(_ context.Context, orgID string) ([]*vault.Credential, error) {
	return []*vault.Credential{{ID: "c1", OrganizationID: orgID, Kind: vault.KindOVH, Name: "prod"}}, nil
}

type fakeDeploys struct {
	lastReq deploy.Request
	result  *deploy.Result
	err     error
}

func (f *fakeDeploys) Dispatch(_ context.Context, req deploy.Request) (*deploy.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &deploy.Result{Outcome: deploy.OutcomeCreated}, nil
}

type fakeClouds struct{ CloudService }

func (f *fakeClouds) ListProjects(context.Context, string) ([]cloud.Project, error) {
	return []cloud.Project{{ID: "cp1", Description: "prod"}}, nil
}

func (f *fakeClouds) ListClusters(_ context.Context, _, projectID string) ([]cloud.Cluster, error) {
	return []cloud.Cluster{{ID: "cl1", Name: "main", Region: "GRA7"}}, nil
}

// fakeTokens validates the single token "session-u1" to user u1.
type fakeTokens struct{}

func (fakeTokens) Validate(_ context.Context, token string, purpose auth.Purpose) (string, error) {
	if token == "session-u1" && purpose == auth.PurposeSession {
		return "u1", nil
	}
	return "", apierror.Unauthorized("invalid credentials")
}

// fakeKeys authenticates the single secret "xdp_live" to an org-1 key with
// project:read.
type fakeKeys struct{}

func (fakeKeys) Authenticate(_ context.Context, secret string) (*policy.Principal, error) {
	if secret == "xdp_live" {
		return &policy.Principal{
			APIKeyID:       "k1",
			OrganizationID: "org-1",
			Permissions:    []policy.Permission{policy.Perm(policy.NounProject, policy.VerbRead)},
		}, nil
	}
	return nil, apierror.Unauthorized("invalid credentials")
}

// fakeAuthz allows everything for user principals in "org-1" and delegates
// API keys to the same rule as the real engine: org pinned, set checked.
type fakeAuthz struct {
	denied map[policy.Permission]bool
}

func (f *fakeAuthz) Authorize(_ context.Context, p *policy.Principal, orgID string, required policy.Permission) error {
	if p == nil {
		return apierror.Unauthorized("authentication required")
	}
	if f.denied[required] {
		return apierror.Forbidden("insufficient permissions")
	}
	if p.IsAPIKey() {
		if p.OrganizationID != orgID {
			return apierror.Forbidden("insufficient permissions")
		}
		for _, perm := range p.Permissions {
			if perm == required {
				return nil
			}
		}
		return apierror.Forbidden("insufficient permissions")
	}
	if orgID != "org-1" {
		return apierror.Forbidden("insufficient permissions")
	}
	return nil
}

type testServer struct {
	*Server
	auth    *fakeAuth
	orgs    *fakeOrgs
	deploys *fakeDeploys
	avatars *fakeAvatars
	authz   *fakeAuthz
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	ts := &testServer{
		auth:    &fakeAuth{},
		orgs:    &fakeOrgs{},
		deploys: &fakeDeploys{},
		avatars: &fakeAvatars{},
		authz:   &fakeAuthz{},
	}
	ts.Server = NewServer(Deps{
		Auth:        ts.auth,
		Avatars:     ts.avatars,
		Orgs:        ts.orgs,
		Projects:    &fakeProjects{},
		APIKeys:     &fakeAPIKeys{},
		Credentials: &fakeCredentials{},
		Deploys:     ts.deploys,
		Clouds:      &fakeClouds{},
		Tokens:      fakeTokens{},
		Keys:        fakeKeys{},
		Authorizer:  ts.authz,
		Log:         log,
		Metrics:     observability.NewMetrics(nil),
		Health:      observability.NewHealthChecker(),
	})
	return ts
}

func doJSON(t *testing.T, s http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestUnauthenticatedRejected(t *testing.T) {
	ts := newTestServer(t)

	rec := doJSON(t, ts, http.MethodGet, "/account", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, ts, http.MethodGet, "/organization/org-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := doJSON(t, ts, http.MethodPost, "/auth/register", "", map[string]string{
		"firstname": "John", "lastname": "Doe",
		"email": "j@d.net", "password": "short",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, ts, http.MethodPost, "/auth/register", "", map[string]string{
		"firstname": "John", "lastname": "Doe",
		"email": "not-an-email", "password": "Passw0rd!",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.registerFn = func(context.Context, auth.RegisterInput) error {
		return apierror.Conflict("email already registered")
	}

	rec := doJSON(t, ts, http.MethodPost, "/auth/register", "", map[string]string{
		"firstname": "John", "lastname": "Doe",
		"email": "j@d.net", "password": "Passw0rd!",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginReturnsPurpose(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.loginFn = func(context.Context, string, string) (*auth.LoginResult, error) {
		return &auth.LoginResult{SessionToken: "session-u1"}, nil
	}

	rec := doJSON(t, ts, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "j@d.net", "password": "Passw0rd!",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var body tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "session-u1", body.Token)
	assert.Equal(t, string(auth.PurposeSession), body.Purpose)
}

func TestLoginTwoFactorChallenge(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.loginFn = func(context.Context, string, string) (*auth.LoginResult, error) {
		return &auth.LoginResult{ChallengeToken: "challenge-1", TwoFactorRequired: true}, nil
	}

	rec := doJSON(t, ts, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "j@d.net", "password": "Passw0rd!",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var body tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "challenge-1", body.Token)
	assert.Equal(t, string(auth.PurposeTwoFactorChallenge), body.Purpose)
}

func TestAccountIsUserOnly(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/account", nil)
	req.Header.Set("X-API-Key", "xdp_live")
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, ts, http.MethodGet, "/account", "session-u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "jane@example.com")
}

func TestOrgForbiddenWithoutMembership(t *testing.T) {
	ts := newTestServer(t)

	rec := doJSON(t, ts, http.MethodGet, "/organization/org-2", "session-u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, ts, http.MethodGet, "/organization/org-1", "session-u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "acme")
}

func TestInvitationReplyAction(t *testing.T) {
	ts := newTestServer(t)

	rec := doJSON(t, ts, http.MethodPost, "/organization/org-1/invitation/i1/reply", "session-u1",
		map[string]string{"action": "maybe"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var gotAccept bool
	ts.orgs.replyFn = func(_ context.Context, _, _, _ string, accept bool) error {
		gotAccept = accept
		return nil
	}
	rec = doJSON(t, ts, http.MethodPost, "/organization/org-1/invitation/i1/reply", "session-u1",
		map[string]string{"action": "accept"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gotAccept)
	assert.Contains(t, rec.Body.String(), "accepted")
}

func TestDeployRequiresOrganization(t *testing.T) {
	ts := newTestServer(t)

	rec := doJSON(t, ts, http.MethodPost, "/clusters/deploy", "session-u1", map[string]string{
		"projectId": "P1", "clusterId": "C1", "appName": "api", "image": "ghcr.io/acme/api", "tag": "v1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDeployDispatches(t *testing.T) {
	ts := newTestServer(t)
	ts.deploys.result = &deploy.Result{Outcome: deploy.OutcomeCreated, ObservedGeneration: 1}

	rec := doJSON(t, ts, http.MethodPost, "/clusters/deploy", "session-u1", map[string]string{
		"organizationId": "org-1",
		"projectId":      "P1", "clusterId": "C1",
		"deploymentName": "api", "appName": "api",
		"image": "ghcr.io/acme/api", "tag": "v1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"created","observedGeneration":1}`, rec.Body.String())
	assert.Equal(t, "org-1", ts.deploys.lastReq.OrganizationID)
	assert.Equal(t, "api", ts.deploys.lastReq.DeploymentName)
}

func TestDeployAPIKeyPinnedToOrg(t *testing.T) {
	ts := newTestServer(t)

	body, err := json.Marshal(map[string]string{
		"organizationId": "org-2",
		"projectId":      "P1", "clusterId": "C1", "appName": "api",
		"image": "ghcr.io/acme/api", "tag": "v1",
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/clusters/deploy", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "xdp_live")
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPIKeyPermissionEnforced(t *testing.T) {
	ts := newTestServer(t)

	// project:read is in the key's set.
	req := httptest.NewRequest(http.MethodGet, "/organization/org-1/projects", nil)
	req.Header.Set("X-API-Key", "xdp_live")
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// project:write is not.
	body := bytes.NewReader([]byte(`{"name":"web"}`))
	req = httptest.NewRequest(http.MethodPost, "/organization/org-1/projects", body)
	req.Header.Set("X-API-Key", "xdp_live")
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAvatarUpload(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("picture", "avatar.png")
	require.NoError(t, err)
	_, err = part.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/account/profile-picture", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer session-u1")
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, ts.avatars.put["u1"])

	// Wrong field name is a parse failure, not a domain error.
	var buf2 bytes.Buffer
	mw2 := multipart.NewWriter(&buf2)
	_, err = mw2.CreateFormFile("file", "avatar.png")
	require.NoError(t, err)
	require.NoError(t, mw2.Close())

	req = httptest.NewRequest(http.MethodPost, "/account/profile-picture", &buf2)
	req.Header.Set("Content-Type", mw2.FormDataContentType())
	req.Header.Set("Authorization", "Bearer session-u1")
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	ts := newTestServer(t)

	rec := doJSON(t, ts, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, ts, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpstreamErrorsMapTo502(t *testing.T) {
	ts := newTestServer(t)
	ts.deploys.err = apierror.Upstream("cluster unavailable", nil)

	rec := doJSON(t, ts, http.MethodPost, "/clusters/deploy", "session-u1", map[string]string{
		"organizationId": "org-1",
		"projectId":      "P1", "clusterId": "C1", "appName": "api",
		"image": "ghcr.io/acme/api", "tag": "v1",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream_unavailable")
}
