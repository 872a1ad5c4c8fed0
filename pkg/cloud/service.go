package cloud

import "context"

// Factory opens an organization's stored cloud credentials and returns a
// provider bound to them.
type Factory func(ctx context.Context, orgID string) (Provider, error)

// Service exposes org-scoped listings of cloud resources. Each call opens
// the organization's credentials fresh, so revoking them takes effect
// immediately.
type Service struct {
	providers Factory
}

// NewService wires the listing service.
func NewService(providers Factory) *Service {
	return &Service{providers: providers}
}

// ListProjects lists the organization's cloud projects.
func (s *Service) ListProjects(ctx context.Context, orgID string) ([]Project, error) {
	p, err := s.providers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return p.ListProjects(ctx)
}

// ListClusters lists the managed clusters of one cloud project.
func (s *Service) ListClusters(ctx context.Context, orgID, projectID string) ([]Cluster, error) {
	p, err := s.providers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return p.ListClusters(ctx, projectID)
}

// ListRegions lists the regions available to one cloud project.
func (s *Service) ListRegions(ctx context.Context, orgID, projectID string) ([]Region, error) {
	p, err := s.providers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return p.ListRegions(ctx, projectID)
}

// ListInstanceTypes lists the compute flavors of a region.
func (s *Service) ListInstanceTypes(ctx context.Context, orgID, projectID, region string) ([]InstanceType, error) {
	p, err := s.providers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return p.ListInstanceTypes(ctx, projectID, region)
}
