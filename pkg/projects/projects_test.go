package projects

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdeploy/xdeploy/pkg/apierror"
)

type memStore struct {
	seq      int
	projects map[string]*Project
}

func newMemStore() *memStore { return &memStore{projects: map[string]*Project{}} }

func (s *memStore) Create(_ context.Context, p *Project) error {
	for _, existing := range s.projects {
		if existing.OrganizationID == p.OrganizationID && existing.Name == p.Name {
			return apierror.Conflict("duplicate name")
		}
	}
	s.seq++
	p.ID = fmt.Sprintf("p-%d", s.seq)
	p.CreatedAt = time.Now().UTC()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, orgID, id string) (*Project, error) {
	p, ok := s.projects[id]
	if !ok || p.OrganizationID != orgID {
		return nil, apierror.NotFound("project not found")
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListByOrg(_ context.Context, orgID string) ([]*Project, error) {
	var out []*Project
	for _, p := range s.projects {
		if p.OrganizationID == orgID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Update(_ context.Context, p *Project) error {
	for _, existing := range s.projects {
		if existing.ID != p.ID && existing.OrganizationID == p.OrganizationID && existing.Name == p.Name {
			return apierror.Conflict("duplicate name")
		}
	}
	if _, ok := s.projects[p.ID]; !ok {
		return apierror.NotFound("project not found")
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memStore) Delete(_ context.Context, orgID, id string) error {
	delete(s.projects, id)
	return nil
}

func TestCreateAndGet(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	p, err := svc.Create(ctx, "org1", "web", "frontend stack")
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)

	got, err := svc.Get(ctx, "org1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "web", got.Name)

	// Projects are not visible from other organizations.
	_, err = svc.Get(ctx, "org2", p.ID)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newMemStore())

	_, err := svc.Create(context.Background(), "org1", "", "")
	require.Error(t, err)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))
}

func TestNameUniquePerOrganization(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, "org1", "web", "")
	require.NoError(t, err)

	_, err = svc.Create(ctx, "org1", "web", "")
	require.Error(t, err)
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))

	// The same name is fine in another organization.
	_, err = svc.Create(ctx, "org2", "web", "")
	assert.NoError(t, err)
}

func TestUpdateAndDelete(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	p, err := svc.Create(ctx, "org1", "web", "")
	require.NoError(t, err)
	other, err := svc.Create(ctx, "org1", "api", "")
	require.NoError(t, err)

	updated, err := svc.Update(ctx, "org1", p.ID, "website", "renamed")
	require.NoError(t, err)
	assert.Equal(t, "website", updated.Name)

	// Renaming onto an existing name conflicts.
	_, err = svc.Update(ctx, "org1", p.ID, "api", "")
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))

	require.NoError(t, svc.Delete(ctx, "org1", other.ID))
	_, err = svc.Get(ctx, "org1", other.ID)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))

	err = svc.Delete(ctx, "org1", other.ID)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}

func TestList(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, "org1", "web", "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "org1", "api", "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "org2", "other", "")
	require.NoError(t, err)

	list, err := svc.List(ctx, "org1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
