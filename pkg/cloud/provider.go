// Package cloud talks to managed-Kubernetes providers on behalf of an
// organization, using credentials opened from the vault per request.
package cloud

import "context"

// Project is a cloud-side project (OVH "cloud project").
type Project struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Cluster is a managed Kubernetes cluster.
type Cluster struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Region  string `json:"region"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// Region is a provider region.
type Region struct {
	Name string `json:"name"`
}

// InstanceType is a compute flavor available in a region.
type InstanceType struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	VCPUs  int    `json:"vcpus"`
	RAM    int    `json:"ram"`
	Region string `json:"region"`
}

// Provider is the contract the deployment dispatcher and the cluster
// listing endpoints need from a cloud vendor.
type Provider interface {
	ListProjects(ctx context.Context) ([]Project, error)
	ListClusters(ctx context.Context, projectID string) ([]Cluster, error)
	ListRegions(ctx context.Context, projectID string) ([]Region, error)
	ListInstanceTypes(ctx context.Context, projectID, region string) ([]InstanceType, error)
	// GetKubeconfig fetches admin kubeconfig YAML for a cluster. It is
	// fetched per request and never persisted.
	GetKubeconfig(ctx context.Context, projectID, clusterID string) ([]byte, error)
}
