package orgs

import (
	"context"
	"time"

	"github.com/xdeploy/xdeploy/pkg/auth"
	"github.com/xdeploy/xdeploy/pkg/policy"
)

// Organization is a tenant. Ownership is represented by the single
// membership row with the owner role, not by a field here.
type Organization struct {
	ID           string    `bson:"_id,omitempty" json:"id"`
	Name         string    `bson:"name" json:"name"`
	Description  string    `bson:"description,omitempty" json:"description,omitempty"`
	LogoURL      string    `bson:"logoUrl,omitempty" json:"logo_url,omitempty"`
	Website      string    `bson:"website,omitempty" json:"website,omitempty"`
	ContactEmail string    `bson:"contactEmail,omitempty" json:"contact_email,omitempty"`
	CreatedAt    time.Time `bson:"createdAt" json:"created_at"`
}

// InvitationState is the lifecycle state of an invitation. Accepted,
// refused, expired and revoked are terminal.
type InvitationState string

const (
	InvitationPending  InvitationState = "pending"
	InvitationAccepted InvitationState = "accepted"
	InvitationRefused  InvitationState = "refused"
	InvitationExpired  InvitationState = "expired"
	InvitationRevoked  InvitationState = "revoked"
)

// Terminal reports whether the state is immutable.
func (s InvitationState) Terminal() bool {
	return s != InvitationPending
}

// Invitation invites an email address into an organization with a role.
type Invitation struct {
	ID             string          `bson:"_id,omitempty" json:"id"`
	OrganizationID string          `bson:"organizationId" json:"organization_id"`
	InviterID      string          `bson:"inviterId" json:"inviter_id"`
	InviteeEmail   string          `bson:"inviteeEmail" json:"invitee_email"`
	Role           string          `bson:"role" json:"role"`
	State          InvitationState `bson:"state" json:"state"`
	CreatedAt      time.Time       `bson:"createdAt" json:"created_at"`
	ExpiresAt      time.Time       `bson:"expiresAt" json:"expires_at"`
}

// Member is a membership joined with user display fields.
type Member struct {
	policy.Membership `bson:",inline"`
	Firstname         string `json:"firstname"`
	Lastname          string `json:"lastname"`
	Email             string `json:"email"`
}

// OrganizationStore is the persistence contract for organizations.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	GetByID(ctx context.Context, id string) (*Organization, error)
	GetByIDs(ctx context.Context, ids []string) ([]*Organization, error)
	Update(ctx context.Context, org *Organization) error
	Delete(ctx context.Context, id string) error
}

// MembershipStore is the persistence contract for memberships. Transfer
// swaps the owner role atomically so the one-owner invariant holds at
// every instant.
type MembershipStore interface {
	Create(ctx context.Context, m *policy.Membership) error
	Get(ctx context.Context, orgID, userID string) (*policy.Membership, error)
	List(ctx context.Context, orgID string) ([]*policy.Membership, error)
	ListForUser(ctx context.Context, userID string) ([]*policy.Membership, error)
	UpdateRole(ctx context.Context, orgID, userID, role string) error
	Delete(ctx context.Context, orgID, userID string) error
	Transfer(ctx context.Context, orgID, fromUserID, toUserID string) error
	DeleteByOrg(ctx context.Context, orgID string) error
}

// InvitationStore is the persistence contract for invitations.
// TransitionState performs a compare-and-set from pending, which is what
// makes terminal states immutable under concurrency.
type InvitationStore interface {
	Create(ctx context.Context, inv *Invitation) error
	GetByID(ctx context.Context, orgID, id string) (*Invitation, error)
	ListByOrg(ctx context.Context, orgID string) ([]*Invitation, error)
	ListByEmail(ctx context.Context, email string) ([]*Invitation, error)
	TransitionState(ctx context.Context, id string, to InvitationState) error
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

// RoleStore is the persistence contract for custom roles.
type RoleStore interface {
	Create(ctx context.Context, role *policy.Role) error
	GetByID(ctx context.Context, orgID, id string) (*policy.Role, error)
	GetByName(ctx context.Context, orgID, name string) (*policy.Role, error)
	ListByOrg(ctx context.Context, orgID string) ([]*policy.Role, error)
	Update(ctx context.Context, role *policy.Role) error
	Delete(ctx context.Context, orgID, id string) error
}

// UserDirectory is the subset of the user store this service needs to
// resolve invitees and render member lists.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*auth.User, error)
	GetByEmail(ctx context.Context, email string) (*auth.User, error)
}

// CreateOrganizationInput carries the fields of a new organization.
type CreateOrganizationInput struct {
	Name         string
	Description  string
	Website      string
	ContactEmail string
}

// UpdateOrganizationInput carries updatable organization fields.
type UpdateOrganizationInput struct {
	Name         string
	Description  string
	Website      string
	ContactEmail string
}
