package server

import (
	"context"
	"io"
	"time"

	"github.com/xdeploy/xdeploy/pkg/apikeys"
	"github.com/xdeploy/xdeploy/pkg/auth"
	"github.com/xdeploy/xdeploy/pkg/cloud"
	"github.com/xdeploy/xdeploy/pkg/deploy"
	"github.com/xdeploy/xdeploy/pkg/orgs"
	"github.com/xdeploy/xdeploy/pkg/policy"
	"github.com/xdeploy/xdeploy/pkg/projects"
	"github.com/xdeploy/xdeploy/pkg/vault"
)

// AuthService is what the auth and account handlers need from the
// authentication state machine.
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) error
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	TwoFactor(ctx context.Context, challengeToken, code string) (string, error)
	TwoFactorRecovery(ctx context.Context, challengeToken, recoveryCode string) (string, error)
	MagicLink(ctx context.Context, email string) error
	ExchangeMagicLink(ctx context.Context, token string) (string, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	VerifyEmail(ctx context.Context, token string) error

	GetAccount(ctx context.Context, userID string) (*auth.User, error)
	ChangePassword(ctx context.Context, userID, current, newPassword string) error
	ChangePhone(ctx context.Context, userID, number string) error
	GetTwoFactorInfo(ctx context.Context, userID string) (*auth.TwoFactorInfo, error)
	SetupTwoFactor(ctx context.Context, userID string) (*auth.TOTPSetup, error)
	EnableTwoFactor(ctx context.Context, userID, code string) ([]string, error)
	DisableTwoFactor(ctx context.Context, userID, code string) error
}

// AvatarStore is the object storage contract for profile pictures.
type AvatarStore interface {
	PutAvatar(ctx context.Context, userID string, r io.Reader) error
	GetAvatar(ctx context.Context, userID string) (io.ReadCloser, string, error)
	DeleteAvatar(ctx context.Context, userID string) error
}

// OrgService is what the organization handlers need.
type OrgService interface {
	Create(ctx context.Context, creatorID string, in orgs.CreateOrganizationInput) (*orgs.Organization, error)
	Get(ctx context.Context, orgID string) (*orgs.Organization, error)
	ListForUser(ctx context.Context, userID string) ([]*orgs.Organization, error)
	Update(ctx context.Context, orgID string, in orgs.UpdateOrganizationInput) (*orgs.Organization, error)
	UpdateLogo(ctx context.Context, orgID, logoURL string) error
	Delete(ctx context.Context, orgID string) error

	ListMembers(ctx context.Context, orgID string) ([]*orgs.Member, error)
	RemoveMember(ctx context.Context, orgID, userID string) error
	UpdateMemberRole(ctx context.Context, orgID, userID, role string) error
	TransferOwnership(ctx context.Context, orgID, fromUserID, toUserID string) error

	Invite(ctx context.Context, orgID, inviterID, email, role string) (*orgs.Invitation, error)
	ListInvitations(ctx context.Context, orgID string) ([]*orgs.Invitation, error)
	GetInvitation(ctx context.Context, orgID, id string) (*orgs.Invitation, error)
	ListInvitationsForUser(ctx context.Context, userID string) ([]*orgs.Invitation, error)
	Revoke(ctx context.Context, orgID, invitationID string) error
	Reply(ctx context.Context, orgID, invitationID, userID string, accept bool) error

	CreateRole(ctx context.Context, orgID, name string, permissions, denies []policy.Permission) (*policy.Role, error)
	ListRoles(ctx context.Context, orgID string) ([]*policy.Role, error)
	GetRole(ctx context.Context, orgID, roleID string) (*policy.Role, error)
	UpdateRole(ctx context.Context, orgID, roleID string, permissions, denies []policy.Permission) (*policy.Role, error)
	DeleteRole(ctx context.Context, orgID, roleID string) error
}

// ProjectService is what the project handlers need.
type ProjectService interface {
	Create(ctx context.Context, orgID, name, description string) (*projects.Project, error)
	Get(ctx context.Context, orgID, id string) (*projects.Project, error)
	List(ctx context.Context, orgID string) ([]*projects.Project, error)
	Update(ctx context.Context, orgID, id, name, description string) (*projects.Project, error)
	UpdateLogo(ctx context.Context, orgID, id, logoURL string) error
	Delete(ctx context.Context, orgID, id string) error
}

// APIKeyService is what the API key handlers need.
type APIKeyService interface {
	Create(ctx context.Context, orgID, name string, permissions []policy.Permission, expiresAt *time.Time) (*apikeys.Key, string, error)
	List(ctx context.Context, orgID string) ([]*apikeys.Key, error)
	Get(ctx context.Context, orgID, id string) (*apikeys.Key, error)
	Revoke(ctx context.Context, orgID, id string) error
}

// CredentialService is what the credential handlers need from the vault.
// Plaintext payloads never cross this boundary.
type CredentialService interface {
	Create(ctx context.Context, orgID string, kind vault.Kind, name string, payload map[string]string) (*vault.Credential, error)
	Get(ctx context.Context, orgID, id string) (*vault.Credential, error)
	List(ctx context.Context, orgID string) ([]*vault.Credential, error)
	Update(ctx context.Context, orgID, id, name string, payload map[string]string) (*vault.Credential, error)
	Delete(ctx context.Context, orgID, id string) error
}

// DeployService dispatches deployments to clusters.
type DeployService interface {
	Dispatch(ctx context.Context, req deploy.Request) (*deploy.Result, error)
}

// CloudService lists cloud resources on behalf of an organization.
type CloudService interface {
	ListProjects(ctx context.Context, orgID string) ([]cloud.Project, error)
	ListClusters(ctx context.Context, orgID, projectID string) ([]cloud.Cluster, error)
	ListRegions(ctx context.Context, orgID, projectID string) ([]cloud.Region, error)
	ListInstanceTypes(ctx context.Context, orgID, projectID, region string) ([]cloud.InstanceType, error)
}
