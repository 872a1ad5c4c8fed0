package apikeys

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/policy"
)

type memStore struct {
	seq  int
	keys map[string]*Key
}

func newMemStore() *memStore { return &memStore{keys: map[string]*Key{}} }

func (s *memStore) Create(_ context.Context, key *Key) error {
	s.seq++
	key.ID = fmt.Sprintf("k-%d", s.seq)
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, orgID, id string) (*Key, error) {
	k, ok := s.keys[id]
	if !ok || k.OrganizationID != orgID {
		return nil, apierror.NotFound("api key not found")
	}
	cp := *k
	return &cp, nil
}

func (s *memStore) GetByHash(_ context.Context, hash string) (*Key, error) {
	for _, k := range s.keys {
		if k.Hash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, apierror.NotFound("api key not found")
}

func (s *memStore) ListByOrg(_ context.Context, orgID string) ([]*Key, error) {
	var out []*Key
	for _, k := range s.keys {
		if k.OrganizationID == orgID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, orgID, id string) error {
	delete(s.keys, id)
	return nil
}

func (s *memStore) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	if k, ok := s.keys[id]; ok {
		k.LastUsedAt = &at
	}
	return nil
}

func readPerm() []policy.Permission {
	return []policy.Permission{policy.Perm(policy.NounProject, policy.VerbRead)}
}

func TestCreateReturnsSecretOnce(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)

	key, secret, err := svc.Create(context.Background(), "org1", "ci", readPerm(), nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret, keyPrefix))
	assert.True(t, strings.HasPrefix(secret, key.Prefix))
	assert.NotContains(t, key.Hash, secret, "stored hash must not contain the secret")
	assert.Len(t, key.Prefix, displayPrefixLen)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	_, _, err := svc.Create(ctx, "org1", "", readPerm(), nil)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))

	_, _, err = svc.Create(ctx, "org1", "ci", nil, nil)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))

	_, _, err = svc.Create(ctx, "org1", "ci", []policy.Permission{"project:fly"}, nil)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))

	_, _, err = svc.Create(ctx, "org1", "ci", []policy.Permission{policy.PermOwner}, nil)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))

	past := time.Now().Add(-time.Hour)
	_, _, err = svc.Create(ctx, "org1", "ci", readPerm(), &past)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))
}

func TestAuthenticate(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()

	key, secret, err := svc.Create(ctx, "org1", "ci", readPerm(), nil)
	require.NoError(t, err)

	principal, err := svc.Authenticate(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, key.ID, principal.APIKeyID)
	assert.Equal(t, "org1", principal.OrganizationID)
	assert.True(t, principal.IsAPIKey())
	assert.Equal(t, readPerm(), principal.Permissions)

	// Authentication records last use.
	stored, err := svc.Get(ctx, "org1", key.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastUsedAt)
}

func TestAuthenticateRejectsBadSecrets(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "not-a-key")
	assert.Equal(t, apierror.KindUnauthorized, apierror.KindOf(err))

	_, err = svc.Authenticate(ctx, keyPrefix+"bm90LXJlYWw")
	assert.Equal(t, apierror.KindUnauthorized, apierror.KindOf(err))
}

func TestAuthenticateExpiredKey(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	_, secret, err := svc.Create(ctx, "org1", "ci", readPerm(), &future)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = svc.Authenticate(ctx, secret)
	require.Error(t, err)
	assert.Equal(t, apierror.KindUnauthorized, apierror.KindOf(err))
}

func TestRevokeStopsAuthentication(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()

	key, secret, err := svc.Create(ctx, "org1", "ci", readPerm(), nil)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, "org1", key.ID))

	_, err = svc.Authenticate(ctx, secret)
	assert.Equal(t, apierror.KindUnauthorized, apierror.KindOf(err))

	err = svc.Revoke(ctx, "org1", key.ID)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}

func TestListScopedToOrganization(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, "org1", "ci", readPerm(), nil)
	require.NoError(t, err)
	_, _, err = svc.Create(ctx, "org2", "deploy", readPerm(), nil)
	require.NoError(t, err)

	keys, err := svc.List(ctx, "org1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ci", keys[0].Name)

	// Cross-org get is a not-found.
	_, err = svc.Get(ctx, "org1", keys[0].ID)
	require.NoError(t, err)
	_, err = svc.Get(ctx, "org2", keys[0].ID)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}
