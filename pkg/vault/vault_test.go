package vault

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/crypto"
)

type memStore struct {
	seq   int
	creds map[string]*Credential
}

func newMemStore() *memStore { return &memStore{creds: map[string]*Credential{}} }

func (s *memStore) Create(_ context.Context, c *Credential) error {
	s.seq++
	c.ID = fmt.Sprintf("c-%d", s.seq)
	cp := *c
	s.creds[c.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, orgID, id string) (*Credential, error) {
	c, ok := s.creds[id]
	if !ok || c.OrganizationID != orgID {
		return nil, apierror.NotFound("credential not found")
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) ListByOrg(_ context.Context, orgID string) ([]*Credential, error) {
	var out []*Credential
	for _, c := range s.creds {
		if c.OrganizationID == orgID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Update(_ context.Context, c *Credential) error {
	if _, ok := s.creds[c.ID]; !ok {
		return apierror.NotFound("credential not found")
	}
	cp := *c
	s.creds[c.ID] = &cp
	return nil
}

func (s *memStore) Delete(_ context.Context, orgID, id string) error {
	delete(s.creds, id)
	return nil
}

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cipher, err := crypto.NewCipher(key)
	require.NoError(t, err)
	store := newMemStore()
	return NewService(store, cipher), store
}

func ovhPayload() map[string]string {
	return map[string]string{
		"application_key":    "ak",
		"application_secret": "as",
		"consumer_key":       "ck",
	}
}

func TestCreateSealsPayload(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, "org1", KindOVH, "prod", ovhPayload())
	require.NoError(t, err)

	stored := store.creds[c.ID]
	assert.NotContains(t, string(stored.Payload), "application_key", "payload must be encrypted at rest")

	opened, err := svc.Open(ctx, "org1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, ovhPayload(), opened)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "org1", "heroku", "prod", ovhPayload())
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))

	_, err = svc.Create(ctx, "org1", KindOVH, "", ovhPayload())
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))

	_, err = svc.Create(ctx, "org1", KindOVH, "prod", nil)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))
}

func TestOpenScopedToOrganization(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, "org1", KindAWS, "prod", map[string]string{"access_key": "AKIA"})
	require.NoError(t, err)

	_, err = svc.Open(ctx, "org2", c.ID)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}

func TestUpdateReplacesPayload(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, "org1", KindDockerHub, "registry", map[string]string{"token": "old"})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "org1", c.ID, "registry-v2", map[string]string{"token": "new"})
	require.NoError(t, err)

	opened, err := svc.Open(ctx, "org1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", opened["token"])

	got, err := svc.Get(ctx, "org1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "registry-v2", got.Name)
}

func TestOpenByKind(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "org1", KindOVH, "prod", ovhPayload())
	require.NoError(t, err)

	opened, err := svc.OpenByKind(ctx, "org1", KindOVH)
	require.NoError(t, err)
	assert.Equal(t, "ak", opened["application_key"])

	_, err = svc.OpenByKind(ctx, "org1", KindAzure)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}

func TestDelete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, "org1", KindGoogleCloud, "gcp", map[string]string{"json": "{}"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "org1", c.ID))
	_, err = svc.Get(ctx, "org1", c.ID)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))

	err = svc.Delete(ctx, "org1", c.ID)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}

func TestListReturnsMetadataOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "org1", KindOVH, "prod", ovhPayload())
	require.NoError(t, err)
	_, err = svc.Create(ctx, "org2", KindAWS, "other", map[string]string{"k": "v"})
	require.NoError(t, err)

	creds, err := svc.List(ctx, "org1")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, KindOVH, creds[0].Kind)
}
