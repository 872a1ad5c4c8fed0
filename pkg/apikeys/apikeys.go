// Package apikeys issues and authenticates organization-scoped API keys.
// The secret is shown once at creation; only its SHA-256 hash is stored.
package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/policy"
)

const (
	// keyPrefix marks xdeploy API keys so they are recognizable in logs
	// and secret scanners.
	keyPrefix = "xdp_"

	keyBytes = 32

	// displayPrefixLen is how many characters of the secret are kept for
	// display, prefix included.
	displayPrefixLen = 12
)

// Key is an API key record. Hash is the SHA-256 of the full secret.
type Key struct {
	ID             string              `bson:"_id,omitempty" json:"id"`
	OrganizationID string              `bson:"organizationId" json:"organization_id"`
	Name           string              `bson:"name" json:"name"`
	Hash           string              `bson:"hash" json:"-"`
	Prefix         string              `bson:"prefix" json:"prefix"`
	Permissions    []policy.Permission `bson:"permissions" json:"permissions"`
	CreatedAt      time.Time           `bson:"createdAt" json:"created_at"`
	ExpiresAt      *time.Time          `bson:"expiresAt,omitempty" json:"expires_at,omitempty"`
	LastUsedAt     *time.Time          `bson:"lastUsedAt,omitempty" json:"last_used_at,omitempty"`
}

// Expired reports whether the key is past its expiry.
func (k *Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Store is the persistence contract for API keys.
type Store interface {
	Create(ctx context.Context, key *Key) error
	GetByID(ctx context.Context, orgID, id string) (*Key, error)
	GetByHash(ctx context.Context, hash string) (*Key, error)
	ListByOrg(ctx context.Context, orgID string) ([]*Key, error)
	Delete(ctx context.Context, orgID, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// Service manages API keys.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService wires the API key service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Create mints a new key. The returned secret is the only time the caller
// ever sees it.
func (s *Service) Create(ctx context.Context, orgID, name string, permissions []policy.Permission, expiresAt *time.Time) (*Key, string, error) {
	if name == "" {
		return nil, "", apierror.Validation("key name is required")
	}
	if len(permissions) == 0 {
		return nil, "", apierror.Validation("at least one permission is required")
	}
	if err := policy.ValidateSet(permissions); err != nil {
		return nil, "", apierror.Validation(err.Error())
	}
	for _, p := range permissions {
		if p == policy.PermOwner {
			return nil, "", apierror.Validation("api keys cannot hold the owner permission")
		}
	}
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return nil, "", apierror.Validation("expiry must be in the future")
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, "", apierror.Internal(fmt.Errorf("generate key: %w", err))
	}

	key := &Key{
		OrganizationID: orgID,
		Name:           name,
		Hash:           hashSecret(secret),
		Prefix:         secret[:displayPrefixLen],
		Permissions:    permissions,
		CreatedAt:      s.now().UTC(),
		ExpiresAt:      expiresAt,
	}
	if err := s.store.Create(ctx, key); err != nil {
		return nil, "", apierror.Internal(fmt.Errorf("store key: %w", err))
	}
	return key, secret, nil
}

// Authenticate resolves a presented secret to a machine principal. Lookup
// is by hash so the store never sees plaintext secrets.
func (s *Service) Authenticate(ctx context.Context, secret string) (*policy.Principal, error) {
	if !strings.HasPrefix(secret, keyPrefix) {
		return nil, apierror.Unauthorized("invalid api key")
	}
	key, err := s.store.GetByHash(ctx, hashSecret(secret))
	if err != nil {
		if errors.Is(err, apierror.NotFound("")) {
			return nil, apierror.Unauthorized("invalid api key")
		}
		return nil, apierror.Internal(fmt.Errorf("lookup key: %w", err))
	}
	if key.Expired(s.now()) {
		return nil, apierror.Unauthorized("api key expired")
	}

	// Last-used is advisory; a failed touch must not fail the request.
	_ = s.store.TouchLastUsed(ctx, key.ID, s.now().UTC())

	return &policy.Principal{
		APIKeyID:       key.ID,
		OrganizationID: key.OrganizationID,
		Permissions:    key.Permissions,
	}, nil
}

// List lists an organization's keys, secrets excluded.
func (s *Service) List(ctx context.Context, orgID string) ([]*Key, error) {
	keys, err := s.store.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("list keys: %w", err))
	}
	return keys, nil
}

// Get loads one key.
func (s *Service) Get(ctx context.Context, orgID, id string) (*Key, error) {
	key, err := s.store.GetByID(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, apierror.NotFound("")) {
			return nil, apierror.NotFound("api key not found")
		}
		return nil, apierror.Internal(fmt.Errorf("get key: %w", err))
	}
	return key, nil
}

// Revoke deletes a key; the secret stops working immediately.
func (s *Service) Revoke(ctx context.Context, orgID, id string) error {
	if _, err := s.Get(ctx, orgID, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, orgID, id); err != nil {
		return apierror.Internal(fmt.Errorf("delete key: %w", err))
	}
	return nil
}

func generateSecret() (string, error) {
	raw := make([]byte, keyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return keyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
