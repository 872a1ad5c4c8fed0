package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xdeploy/xdeploy/pkg/apierror"
)

// Principal is the authenticated actor on a request: a user resolved from a
// session token, or an API key with a fixed organization scope.
type Principal struct {
	UserID string

	// API key fields. An API key principal cannot cross organizations.
	APIKeyID       string
	OrganizationID string
	Permissions    []Permission
}

// IsAPIKey reports whether the principal is a machine principal.
func (p *Principal) IsAPIKey() bool { return p.APIKeyID != "" }

// Membership binds a user to an organization with a role plus optional
// direct grants and denies.
type Membership struct {
	OrganizationID string       `bson:"organizationId" json:"organization_id"`
	UserID         string       `bson:"userId" json:"user_id"`
	Role           string       `bson:"role" json:"role"`
	Grants         []Permission `bson:"grants,omitempty" json:"grants,omitempty"`
	Denies         []Permission `bson:"denies,omitempty" json:"denies,omitempty"`
	JoinedAt       time.Time    `bson:"joinedAt" json:"joined_at"`
}

// Role is a named permission set. OrganizationID is empty for built-in
// roles and set for custom roles.
type Role struct {
	ID             string       `bson:"_id,omitempty" json:"id"`
	OrganizationID string       `bson:"organizationId,omitempty" json:"organization_id,omitempty"`
	Name           string       `bson:"name" json:"name"`
	Permissions    []Permission `bson:"permissions" json:"permissions"`
	Denies         []Permission `bson:"denies,omitempty" json:"denies,omitempty"`
}

// MembershipStore resolves a user's membership in an organization.
type MembershipStore interface {
	Get(ctx context.Context, orgID, userID string) (*Membership, error)
}

// RoleStore resolves custom roles by name within an organization.
type RoleStore interface {
	GetByName(ctx context.Context, orgID, name string) (*Role, error)
}

const (
	membershipCacheSize = 4096
	membershipCacheTTL  = 30 * time.Second
)

// Engine evaluates "may principal P perform action A in organization O".
// Membership lookups are cached briefly; a role change takes at most the
// cache TTL to propagate.
type Engine struct {
	memberships MembershipStore
	roles       RoleStore
	cache       *expirable.LRU[string, *Membership]
}

// NewEngine creates a policy engine.
func NewEngine(memberships MembershipStore, roles RoleStore) *Engine {
	return &Engine{
		memberships: memberships,
		roles:       roles,
		cache:       expirable.NewLRU[string, *Membership](membershipCacheSize, nil, membershipCacheTTL),
	}
}

// Authorize returns nil if the principal holds the required permission in
// the organization, apierror.Forbidden otherwise.
func (e *Engine) Authorize(ctx context.Context, principal *Principal, orgID string, required Permission) error {
	if principal == nil {
		return apierror.Unauthorized("authentication required")
	}
	if !Valid(required) {
		return apierror.Internal(fmt.Errorf("unknown permission %q", required))
	}

	if principal.IsAPIKey() {
		// API keys are pinned to one organization; no cross-org access.
		if principal.OrganizationID != orgID {
			return apierror.Forbidden("insufficient permissions")
		}
		if permitted(principal.Permissions, nil, required) {
			return nil
		}
		return apierror.Forbidden("insufficient permissions")
	}

	membership, err := e.membership(ctx, orgID, principal.UserID)
	if err != nil {
		if errors.Is(err, apierror.NotFound("")) {
			return apierror.Forbidden("insufficient permissions")
		}
		return apierror.Internal(fmt.Errorf("membership lookup: %w", err))
	}

	allows, denies, err := e.effectiveSet(ctx, membership)
	if err != nil {
		return apierror.Internal(fmt.Errorf("resolve role: %w", err))
	}
	if permitted(allows, denies, required) {
		return nil
	}
	return apierror.Forbidden("insufficient permissions")
}

// Invalidate drops a cached membership after a role change or removal.
func (e *Engine) Invalidate(orgID, userID string) {
	e.cache.Remove(orgID + "/" + userID)
}

func (e *Engine) membership(ctx context.Context, orgID, userID string) (*Membership, error) {
	key := orgID + "/" + userID
	if m, ok := e.cache.Get(key); ok {
		return m, nil
	}
	m, err := e.memberships.Get(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, m)
	return m, nil
}

// effectiveSet computes the union of role permissions and direct grants,
// plus the membership's denies.
func (e *Engine) effectiveSet(ctx context.Context, m *Membership) (allows, denies []Permission, err error) {
	rolePerms, ok := BuiltinRole(m.Role)
	if !ok {
		role, err := e.roles.GetByName(ctx, m.OrganizationID, m.Role)
		if err != nil {
			if errors.Is(err, apierror.NotFound("")) {
				// Unknown role grants nothing; direct grants still apply.
				return m.Grants, m.Denies, nil
			}
			return nil, nil, err
		}
		rolePerms = role.Permissions
		denies = append(denies, role.Denies...)
	}

	allows = make([]Permission, 0, len(rolePerms)+len(m.Grants))
	allows = append(allows, rolePerms...)
	allows = append(allows, m.Grants...)
	denies = append(denies, m.Denies...)
	return allows, denies, nil
}

// permitted applies the evaluation rule: explicit denies beat allows, and
// owner implies everything not denied.
func permitted(allows, denies []Permission, required Permission) bool {
	for _, d := range denies {
		if d == required {
			return false
		}
	}
	for _, a := range allows {
		if a == required || a == PermOwner {
			return true
		}
	}
	return false
}
