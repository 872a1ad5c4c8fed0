package cloud

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ovh/go-ovh/ovh"

	"github.com/xdeploy/xdeploy/pkg/apierror"
)

// DefaultOVHEndpoint is the European OVH API.
const DefaultOVHEndpoint = ovh.OvhEU

const requestTimeout = 10 * time.Second

// OVHCredentials are the three secrets of an OVH application, opened from
// the vault.
type OVHCredentials struct {
	ApplicationKey    string
	ApplicationSecret string
	ConsumerKey       string
}

// OVHProvider implements Provider on the official OVH client. The client
// signs every request with the request-level credentials and corrects the
// signature timestamp for clock drift against /auth/time; the provider
// holds no long-lived tokens.
type OVHProvider struct {
	client *ovh.Client
}

// NewOVHProvider creates a provider for one organization's credentials.
// endpoint is DefaultOVHEndpoint unless overridden for tests.
func NewOVHProvider(endpoint string, creds OVHCredentials) (*OVHProvider, error) {
	if endpoint == "" {
		endpoint = DefaultOVHEndpoint
	}
	client, err := ovh.NewClient(endpoint, creds.ApplicationKey, creds.ApplicationSecret, creds.ConsumerKey)
	if err != nil {
		return nil, apierror.Unprocessable("stored cloud credentials are incomplete")
	}
	client.Timeout = requestTimeout
	return &OVHProvider{client: client}, nil
}

// ListProjects lists the cloud projects visible to the credentials. OVH
// returns bare project IDs; descriptions are fetched per project.
func (p *OVHProvider) ListProjects(ctx context.Context) ([]Project, error) {
	var ids []string
	if err := p.get(ctx, "/cloud/project", &ids); err != nil {
		return nil, err
	}
	projects := make([]Project, 0, len(ids))
	for _, id := range ids {
		var detail struct {
			ProjectID   string `json:"project_id"`
			Description string `json:"description"`
		}
		if err := p.get(ctx, "/cloud/project/"+id, &detail); err != nil {
			return nil, err
		}
		projects = append(projects, Project{ID: id, Description: detail.Description})
	}
	return projects, nil
}

// ListClusters lists managed Kubernetes clusters in a cloud project.
func (p *OVHProvider) ListClusters(ctx context.Context, projectID string) ([]Cluster, error) {
	base := "/cloud/project/" + projectID + "/kube"
	var ids []string
	if err := p.get(ctx, base, &ids); err != nil {
		return nil, err
	}
	clusters := make([]Cluster, 0, len(ids))
	for _, id := range ids {
		var c Cluster
		if err := p.get(ctx, base+"/"+id, &c); err != nil {
			return nil, err
		}
		c.ID = id
		clusters = append(clusters, c)
	}
	return clusters, nil
}

// ListRegions lists the regions of a cloud project.
func (p *OVHProvider) ListRegions(ctx context.Context, projectID string) ([]Region, error) {
	var names []string
	if err := p.get(ctx, "/cloud/project/"+projectID+"/region", &names); err != nil {
		return nil, err
	}
	regions := make([]Region, 0, len(names))
	for _, n := range names {
		regions = append(regions, Region{Name: n})
	}
	return regions, nil
}

// ListInstanceTypes lists compute flavors, optionally filtered by region.
func (p *OVHProvider) ListInstanceTypes(ctx context.Context, projectID, region string) ([]InstanceType, error) {
	path := "/cloud/project/" + projectID + "/flavor"
	if region != "" {
		path += "?region=" + region
	}
	var out []InstanceType
	if err := p.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetKubeconfig fetches admin kubeconfig YAML for a cluster.
func (p *OVHProvider) GetKubeconfig(ctx context.Context, projectID, clusterID string) ([]byte, error) {
	var out struct {
		Content string `json:"content"`
	}
	path := "/cloud/project/" + projectID + "/kube/" + clusterID + "/kubeconfig"
	if err := p.client.PostWithContext(ctx, path, nil, &out); err != nil {
		return nil, mapOVHError(err)
	}
	return []byte(out.Content), nil
}

// get runs one signed GET and maps provider errors to domain errors.
func (p *OVHProvider) get(ctx context.Context, path string, out any) error {
	if err := p.client.GetWithContext(ctx, path, out); err != nil {
		return mapOVHError(err)
	}
	return nil
}

func mapOVHError(err error) error {
	var apiErr *ovh.APIError
	if !errors.As(err, &apiErr) {
		return apierror.Upstream("cloud provider unreachable", err)
	}
	switch apiErr.Code {
	case http.StatusNotFound:
		return apierror.NotFound("cloud resource not found")
	case http.StatusUnauthorized, http.StatusForbidden:
		return apierror.Unprocessable("cloud provider rejected the stored credentials")
	default:
		return apierror.Upstream("cloud provider unavailable", err)
	}
}
