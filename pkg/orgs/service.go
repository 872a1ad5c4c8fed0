// Package orgs manages organizations, their memberships, invitations and
// custom roles.
package orgs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/policy"
)

// invitationTTL is how long an invitation stays pending before the sweeper
// expires it.
const invitationTTL = 7 * 24 * time.Hour

// Service implements organization management.
type Service struct {
	orgs        OrganizationStore
	memberships MembershipStore
	invitations InvitationStore
	roles       RoleStore
	users       UserDirectory
	engine      *policy.Engine
	log         *logrus.Logger
}

// NewService wires the organization service.
func NewService(orgs OrganizationStore, memberships MembershipStore, invitations InvitationStore, roles RoleStore, users UserDirectory, engine *policy.Engine, log *logrus.Logger) *Service {
	return &Service{
		orgs:        orgs,
		memberships: memberships,
		invitations: invitations,
		roles:       roles,
		users:       users,
		engine:      engine,
		log:         log,
	}
}

// Create creates an organization; the creator becomes its sole owner.
func (s *Service) Create(ctx context.Context, creatorID string, in CreateOrganizationInput) (*Organization, error) {
	if in.Name == "" {
		return nil, apierror.Validation("organization name is required")
	}

	org := &Organization{
		Name:         in.Name,
		Description:  in.Description,
		Website:      in.Website,
		ContactEmail: in.ContactEmail,
	}
	if err := s.orgs.Create(ctx, org); err != nil {
		return nil, apierror.Internal(fmt.Errorf("create organization: %w", err))
	}

	if err := s.memberships.Create(ctx, &policy.Membership{
		OrganizationID: org.ID,
		UserID:         creatorID,
		Role:           policy.RoleOwner,
		JoinedAt:       time.Now().UTC(),
	}); err != nil {
		return nil, apierror.Internal(fmt.Errorf("create owner membership: %w", err))
	}
	return org, nil
}

// Get loads an organization.
func (s *Service) Get(ctx context.Context, orgID string) (*Organization, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, apierror.NotFound("")) {
			return nil, apierror.NotFound("organization not found")
		}
		return nil, apierror.Internal(fmt.Errorf("get organization: %w", err))
	}
	return org, nil
}

// ListForUser lists the organizations the user belongs to.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*Organization, error) {
	memberships, err := s.memberships.ListForUser(ctx, userID)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("list memberships: %w", err))
	}
	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.OrganizationID)
	}
	orgs, err := s.orgs.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("load organizations: %w", err))
	}
	return orgs, nil
}

// Update changes an organization's descriptive fields.
func (s *Service) Update(ctx context.Context, orgID string, in UpdateOrganizationInput) (*Organization, error) {
	if in.Name == "" {
		return nil, apierror.Validation("organization name is required")
	}
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	org.Name = in.Name
	org.Description = in.Description
	org.Website = in.Website
	org.ContactEmail = in.ContactEmail
	if err := s.orgs.Update(ctx, org); err != nil {
		return nil, apierror.Internal(fmt.Errorf("update organization: %w", err))
	}
	return org, nil
}

// UpdateLogo stores the organization's logo URL.
func (s *Service) UpdateLogo(ctx context.Context, orgID, logoURL string) error {
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return err
	}
	org.LogoURL = logoURL
	if err := s.orgs.Update(ctx, org); err != nil {
		return apierror.Internal(fmt.Errorf("update logo: %w", err))
	}
	return nil
}

// Delete removes the organization and its memberships.
func (s *Service) Delete(ctx context.Context, orgID string) error {
	if _, err := s.Get(ctx, orgID); err != nil {
		return err
	}
	if err := s.orgs.Delete(ctx, orgID); err != nil {
		return apierror.Internal(fmt.Errorf("delete organization: %w", err))
	}
	if err := s.memberships.DeleteByOrg(ctx, orgID); err != nil {
		return apierror.Internal(fmt.Errorf("delete memberships: %w", err))
	}
	return nil
}

// ListMembers joins memberships with user display fields.
func (s *Service) ListMembers(ctx context.Context, orgID string) ([]*Member, error) {
	memberships, err := s.memberships.List(ctx, orgID)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("list memberships: %w", err))
	}

	members := make([]*Member, 0, len(memberships))
	for _, m := range memberships {
		member := &Member{Membership: *m}
		if user, err := s.users.GetByID(ctx, m.UserID); err == nil && user != nil {
			member.Firstname = user.Firstname
			member.Lastname = user.Lastname
			member.Email = user.Email.Address
		}
		members = append(members, member)
	}
	return members, nil
}

// RemoveMember removes a user from the organization. The owner membership
// can never be removed; ownership moves only through TransferOwnership.
func (s *Service) RemoveMember(ctx context.Context, orgID, userID string) error {
	m, err := s.memberships.Get(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, apierror.NotFound("")) {
			return apierror.NotFound("member not found")
		}
		return apierror.Internal(fmt.Errorf("get membership: %w", err))
	}
	if m.Role == policy.RoleOwner {
		return apierror.Unprocessable("the organization owner cannot be removed")
	}
	if err := s.memberships.Delete(ctx, orgID, userID); err != nil {
		return apierror.Internal(fmt.Errorf("delete membership: %w", err))
	}
	s.engine.Invalidate(orgID, userID)
	return nil
}

// UpdateMemberRole changes a member's role. Promotions to owner go through
// TransferOwnership only.
func (s *Service) UpdateMemberRole(ctx context.Context, orgID, userID, role string) error {
	if role == policy.RoleOwner {
		return apierror.Unprocessable("ownership is changed by transfer, not role assignment")
	}
	if _, ok := policy.BuiltinRole(role); !ok {
		if _, err := s.roles.GetByName(ctx, orgID, role); err != nil {
			return apierror.Validation(fmt.Sprintf("unknown role %q", role))
		}
	}

	m, err := s.memberships.Get(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, apierror.NotFound("")) {
			return apierror.NotFound("member not found")
		}
		return apierror.Internal(fmt.Errorf("get membership: %w", err))
	}
	if m.Role == policy.RoleOwner {
		return apierror.Unprocessable("the owner role cannot be reassigned")
	}

	if err := s.memberships.UpdateRole(ctx, orgID, userID, role); err != nil {
		return apierror.Internal(fmt.Errorf("update role: %w", err))
	}
	s.engine.Invalidate(orgID, userID)
	return nil
}

// TransferOwnership atomically moves the owner role to another member.
func (s *Service) TransferOwnership(ctx context.Context, orgID, fromUserID, toUserID string) error {
	if fromUserID == toUserID {
		return apierror.Validation("cannot transfer ownership to yourself")
	}
	from, err := s.memberships.Get(ctx, orgID, fromUserID)
	if err != nil || from.Role != policy.RoleOwner {
		return apierror.Forbidden("only the owner can transfer ownership")
	}
	if _, err := s.memberships.Get(ctx, orgID, toUserID); err != nil {
		return apierror.NotFound("target member not found")
	}

	if err := s.memberships.Transfer(ctx, orgID, fromUserID, toUserID); err != nil {
		return apierror.Internal(fmt.Errorf("transfer ownership: %w", err))
	}
	s.engine.Invalidate(orgID, fromUserID)
	s.engine.Invalidate(orgID, toUserID)
	return nil
}

// Invite creates a pending invitation for an email address.
func (s *Service) Invite(ctx context.Context, orgID, inviterID, email, role string) (*Invitation, error) {
	if email == "" {
		return nil, apierror.Validation("invitee email is required")
	}
	if role == policy.RoleOwner {
		return nil, apierror.Validation("cannot invite as owner")
	}
	if _, ok := policy.BuiltinRole(role); !ok {
		if _, err := s.roles.GetByName(ctx, orgID, role); err != nil {
			return nil, apierror.Validation(fmt.Sprintf("unknown role %q", role))
		}
	}

	// An existing member does not need an invitation.
	if user, err := s.users.GetByEmail(ctx, email); err == nil && user != nil {
		if _, err := s.memberships.Get(ctx, orgID, user.ID); err == nil {
			return nil, apierror.Conflict("user is already a member")
		}
	}

	now := time.Now().UTC()
	inv := &Invitation{
		OrganizationID: orgID,
		InviterID:      inviterID,
		InviteeEmail:   email,
		Role:           role,
		State:          InvitationPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(invitationTTL),
	}
	if err := s.invitations.Create(ctx, inv); err != nil {
		return nil, apierror.Internal(fmt.Errorf("create invitation: %w", err))
	}
	return inv, nil
}

// ListInvitations lists an organization's invitations.
func (s *Service) ListInvitations(ctx context.Context, orgID string) ([]*Invitation, error) {
	invs, err := s.invitations.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("list invitations: %w", err))
	}
	return invs, nil
}

// GetInvitation loads one invitation within an organization.
func (s *Service) GetInvitation(ctx context.Context, orgID, id string) (*Invitation, error) {
	inv, err := s.invitations.GetByID(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, apierror.NotFound("")) {
			return nil, apierror.NotFound("invitation not found")
		}
		return nil, apierror.Internal(fmt.Errorf("get invitation: %w", err))
	}
	return inv, nil
}

// ListInvitationsForUser lists pending invitations addressed to the user's
// email.
func (s *Service) ListInvitationsForUser(ctx context.Context, userID string) ([]*Invitation, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		return nil, apierror.NotFound("user not found")
	}
	invs, err := s.invitations.ListByEmail(ctx, user.Email.Address)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("list invitations: %w", err))
	}
	return invs, nil
}

// Revoke moves a pending invitation to revoked.
func (s *Service) Revoke(ctx context.Context, orgID, invitationID string) error {
	inv, err := s.GetInvitation(ctx, orgID, invitationID)
	if err != nil {
		return err
	}
	if inv.State.Terminal() {
		return apierror.Conflict("invitation is no longer pending")
	}
	if err := s.invitations.TransitionState(ctx, invitationID, InvitationRevoked); err != nil {
		if errors.Is(err, apierror.Conflict("")) {
			return apierror.Conflict("invitation is no longer pending")
		}
		return apierror.Internal(fmt.Errorf("revoke invitation: %w", err))
	}
	return nil
}

// Reply accepts or refuses an invitation on behalf of the invitee.
// Acceptance creates the membership with the role fixed at invitation time.
func (s *Service) Reply(ctx context.Context, orgID, invitationID, userID string, accept bool) error {
	inv, err := s.GetInvitation(ctx, orgID, invitationID)
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		return apierror.NotFound("user not found")
	}
	if user.Email.Address != inv.InviteeEmail {
		return apierror.Forbidden("invitation is addressed to a different email")
	}
	if inv.State.Terminal() {
		return apierror.Conflict("invitation is no longer pending")
	}
	if time.Now().UTC().After(inv.ExpiresAt) {
		// Lazily expire; the sweeper would get it eventually.
		_ = s.invitations.TransitionState(ctx, invitationID, InvitationExpired)
		return apierror.Conflict("invitation has expired")
	}

	to := InvitationRefused
	if accept {
		to = InvitationAccepted
	}
	if err := s.invitations.TransitionState(ctx, invitationID, to); err != nil {
		if errors.Is(err, apierror.Conflict("")) {
			return apierror.Conflict("invitation is no longer pending")
		}
		return apierror.Internal(fmt.Errorf("transition invitation: %w", err))
	}

	if accept {
		if err := s.memberships.Create(ctx, &policy.Membership{
			OrganizationID: inv.OrganizationID,
			UserID:         userID,
			Role:           inv.Role,
			JoinedAt:       time.Now().UTC(),
		}); err != nil && !errors.Is(err, apierror.Conflict("")) {
			return apierror.Internal(fmt.Errorf("create membership: %w", err))
		}
	}
	return nil
}

// ExpireInvitations moves overdue pending invitations to expired. Run on a
// schedule from the server entry point.
func (s *Service) ExpireInvitations(ctx context.Context) {
	n, err := s.invitations.ExpirePending(ctx, time.Now().UTC())
	if err != nil {
		s.log.WithError(err).Error("failed to expire invitations")
		return
	}
	if n > 0 {
		s.log.WithField("count", n).Info("expired invitations")
	}
}

// CreateRole defines a custom role inside an organization.
func (s *Service) CreateRole(ctx context.Context, orgID, name string, permissions, denies []policy.Permission) (*policy.Role, error) {
	if name == "" {
		return nil, apierror.Validation("role name is required")
	}
	if _, ok := policy.BuiltinRole(name); ok {
		return nil, apierror.Conflict("role name is reserved")
	}
	if err := policy.ValidateSet(permissions); err != nil {
		return nil, apierror.Validation(err.Error())
	}
	if err := policy.ValidateSet(denies); err != nil {
		return nil, apierror.Validation(err.Error())
	}
	if _, err := s.roles.GetByName(ctx, orgID, name); err == nil {
		return nil, apierror.Conflict("role already exists")
	}

	role := &policy.Role{
		OrganizationID: orgID,
		Name:           name,
		Permissions:    permissions,
		Denies:         denies,
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, apierror.Internal(fmt.Errorf("create role: %w", err))
	}
	return role, nil
}

// ListRoles lists an organization's custom roles.
func (s *Service) ListRoles(ctx context.Context, orgID string) ([]*policy.Role, error) {
	roles, err := s.roles.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("list roles: %w", err))
	}
	return roles, nil
}

// GetRole loads one custom role.
func (s *Service) GetRole(ctx context.Context, orgID, roleID string) (*policy.Role, error) {
	role, err := s.roles.GetByID(ctx, orgID, roleID)
	if err != nil {
		if errors.Is(err, apierror.NotFound("")) {
			return nil, apierror.NotFound("role not found")
		}
		return nil, apierror.Internal(fmt.Errorf("get role: %w", err))
	}
	return role, nil
}

// UpdateRole replaces a custom role's permission sets.
func (s *Service) UpdateRole(ctx context.Context, orgID, roleID string, permissions, denies []policy.Permission) (*policy.Role, error) {
	if err := policy.ValidateSet(permissions); err != nil {
		return nil, apierror.Validation(err.Error())
	}
	if err := policy.ValidateSet(denies); err != nil {
		return nil, apierror.Validation(err.Error())
	}
	role, err := s.GetRole(ctx, orgID, roleID)
	if err != nil {
		return nil, err
	}
	role.Permissions = permissions
	role.Denies = denies
	if err := s.roles.Update(ctx, role); err != nil {
		return nil, apierror.Internal(fmt.Errorf("update role: %w", err))
	}
	return role, nil
}

// DeleteRole removes a custom role. Members still holding it fall back to
// an empty permission set.
func (s *Service) DeleteRole(ctx context.Context, orgID, roleID string) error {
	if _, err := s.GetRole(ctx, orgID, roleID); err != nil {
		return err
	}
	if err := s.roles.Delete(ctx, orgID, roleID); err != nil {
		return apierror.Internal(fmt.Errorf("delete role: %w", err))
	}
	return nil
}
