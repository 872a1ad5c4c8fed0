// Package projects manages an organization's projects, the grouping unit
// for deployments.
package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xdeploy/xdeploy/pkg/apierror"
)

// Project groups deployments inside an organization. Name is unique per
// organization.
type Project struct {
	ID             string    `bson:"_id,omitempty" json:"id"`
	OrganizationID string    `bson:"organizationId" json:"organization_id"`
	Name           string    `bson:"name" json:"name"`
	Description    string    `bson:"description,omitempty" json:"description,omitempty"`
	LogoURL        string    `bson:"logoUrl,omitempty" json:"logo_url,omitempty"`
	CreatedAt      time.Time `bson:"createdAt" json:"created_at"`
}

// Store is the persistence contract for projects. Create must fail with a
// conflict when (organization, name) already exists.
type Store interface {
	Create(ctx context.Context, p *Project) error
	GetByID(ctx context.Context, orgID, id string) (*Project, error)
	ListByOrg(ctx context.Context, orgID string) ([]*Project, error)
	Update(ctx context.Context, p *Project) error
	Delete(ctx context.Context, orgID, id string) error
}

// Service implements project management.
type Service struct {
	store Store
}

// NewService wires the project service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create adds a project to an organization.
func (s *Service) Create(ctx context.Context, orgID, name, description string) (*Project, error) {
	if name == "" {
		return nil, apierror.Validation("project name is required")
	}
	p := &Project{
		OrganizationID: orgID,
		Name:           name,
		Description:    description,
	}
	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, apierror.Conflict("")) {
			return nil, apierror.Conflict("a project with this name already exists")
		}
		return nil, apierror.Internal(fmt.Errorf("create project: %w", err))
	}
	return p, nil
}

// Get loads one project within an organization.
func (s *Service) Get(ctx context.Context, orgID, id string) (*Project, error) {
	p, err := s.store.GetByID(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, apierror.NotFound("")) {
			return nil, apierror.NotFound("project not found")
		}
		return nil, apierror.Internal(fmt.Errorf("get project: %w", err))
	}
	return p, nil
}

// List lists an organization's projects.
func (s *Service) List(ctx context.Context, orgID string) ([]*Project, error) {
	projects, err := s.store.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, apierror.Internal(fmt.Errorf("list projects: %w", err))
	}
	return projects, nil
}

// Update changes a project's name and description.
func (s *Service) Update(ctx context.Context, orgID, id, name, description string) (*Project, error) {
	if name == "" {
		return nil, apierror.Validation("project name is required")
	}
	p, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	p.Name = name
	p.Description = description
	if err := s.store.Update(ctx, p); err != nil {
		if errors.Is(err, apierror.Conflict("")) {
			return nil, apierror.Conflict("a project with this name already exists")
		}
		return nil, apierror.Internal(fmt.Errorf("update project: %w", err))
	}
	return p, nil
}

// UpdateLogo stores the project's logo URL.
func (s *Service) UpdateLogo(ctx context.Context, orgID, id, logoURL string) error {
	p, err := s.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	p.LogoURL = logoURL
	if err := s.store.Update(ctx, p); err != nil {
		return apierror.Internal(fmt.Errorf("update project logo: %w", err))
	}
	return nil
}

// Delete removes a project.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	if _, err := s.Get(ctx, orgID, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, orgID, id); err != nil {
		return apierror.Internal(fmt.Errorf("delete project: %w", err))
	}
	return nil
}
