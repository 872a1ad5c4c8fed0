// Package deploy dispatches application deployments to managed Kubernetes
// clusters. The kubeconfig is fetched from the cloud provider per request
// and never persisted.
package deploy

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/xdeploy/xdeploy/pkg/apierror"
	"github.com/xdeploy/xdeploy/pkg/cloud"
	"github.com/xdeploy/xdeploy/pkg/observability"
)

const (
	defaultNamespace = "default"
	defaultReplicas  = int32(1)
)

// Outcome says whether the dispatch created or updated the Deployment.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
)

// Request describes one deployment dispatch.
type Request struct {
	OrganizationID string `json:"organizationId"`
	CloudProjectID string `json:"projectId"`
	ClusterID      string `json:"clusterId"`
	DeploymentName string `json:"deploymentName"`
	AppName        string `json:"appName"`
	Image          string `json:"image"`
	Tag            string `json:"tag"`
	Replicas       int32  `json:"replicas,omitempty"`
	Namespace      string `json:"namespace,omitempty"`
}

// Result is the dispatch outcome.
type Result struct {
	Outcome            Outcome `json:"status"`
	ObservedGeneration int64   `json:"observedGeneration"`
}

// ProviderFactory opens an organization's cloud credentials and returns a
// provider bound to them.
type ProviderFactory func(ctx context.Context, orgID string) (cloud.Provider, error)

// clientFactory turns kubeconfig YAML into a clientset. Overridden in tests
// with a fake clientset.
type clientFactory func(kubeconfig []byte) (kubernetes.Interface, error)

// Dispatcher performs idempotent create-or-update of Deployments.
type Dispatcher struct {
	providers ProviderFactory
	newClient clientFactory
	metrics   *observability.Metrics
	log       *logrus.Logger
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(providers ProviderFactory, metrics *observability.Metrics, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		providers: providers,
		newClient: newClientset,
		metrics:   metrics,
		log:       log,
	}
}

func newClientset(kubeconfig []byte) (kubernetes.Interface, error) {
	restConfig, err := clientcmd.RESTConfigFromKubeConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("parse kubeconfig: %w", err)
	}
	return kubernetes.NewForConfig(restConfig)
}

// Dispatch resolves the cluster and applies the desired Deployment.
// Re-dispatching the same request is a no-op update, not an error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.DeploymentName == "" {
		req.DeploymentName = req.AppName
	}
	if req.Namespace == "" {
		req.Namespace = defaultNamespace
	}
	if req.Replicas <= 0 {
		req.Replicas = defaultReplicas
	}

	provider, err := d.providers(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	kubeconfig, err := provider.GetKubeconfig(ctx, req.CloudProjectID, req.ClusterID)
	if err != nil {
		return nil, err
	}
	client, err := d.newClient(kubeconfig)
	if err != nil {
		return nil, apierror.Upstream("cluster rejected the kubeconfig", err)
	}

	desired := desiredDeployment(req)
	deployments := client.AppsV1().Deployments(req.Namespace)

	_, err = deployments.Get(ctx, req.DeploymentName, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		created, err := deployments.Create(ctx, desired, metav1.CreateOptions{})
		if err != nil {
			// A concurrent dispatch may have created it first.
			if k8serrors.IsAlreadyExists(err) {
				return d.update(ctx, client, req)
			}
			return nil, apierror.Upstream("cluster refused the deployment", err)
		}
		d.log.WithFields(logrus.Fields{
			"deployment": req.DeploymentName,
			"app":        req.AppName,
			"namespace":  req.Namespace,
			"cluster":    req.ClusterID,
		}).Info("deployment created")
		d.metrics.DeploymentsTotal.WithLabelValues(string(OutcomeCreated)).Inc()
		return &Result{Outcome: OutcomeCreated, ObservedGeneration: created.Status.ObservedGeneration}, nil
	}
	if err != nil {
		return nil, apierror.Upstream("cluster unavailable", err)
	}

	return d.update(ctx, client, req)
}

// update applies the desired spec over the live object, retrying once on a
// resource version conflict.
func (d *Dispatcher) update(ctx context.Context, client kubernetes.Interface, req Request) (*Result, error) {
	deployments := client.AppsV1().Deployments(req.Namespace)

	for attempt := 0; attempt < 2; attempt++ {
		live, err := deployments.Get(ctx, req.DeploymentName, metav1.GetOptions{})
		if err != nil {
			return nil, apierror.Upstream("cluster unavailable", err)
		}
		live.Labels = labels(req.AppName)
		live.Spec = desiredDeployment(req).Spec

		updated, err := deployments.Update(ctx, live, metav1.UpdateOptions{})
		if err == nil {
			d.log.WithFields(logrus.Fields{
				"deployment": req.DeploymentName,
				"app":        req.AppName,
				"namespace":  req.Namespace,
				"cluster":    req.ClusterID,
			}).Info("deployment updated")
			d.metrics.DeploymentsTotal.WithLabelValues(string(OutcomeUpdated)).Inc()
			return &Result{Outcome: OutcomeUpdated, ObservedGeneration: updated.Status.ObservedGeneration}, nil
		}
		if !k8serrors.IsConflict(err) {
			return nil, apierror.Upstream("cluster refused the deployment", err)
		}
	}
	return nil, apierror.Conflict("deployment was modified concurrently, retry")
}

func validate(req Request) error {
	switch {
	case req.AppName == "":
		return apierror.Validation("app name is required")
	case req.Image == "":
		return apierror.Validation("image is required")
	case req.Tag == "":
		return apierror.Validation("image tag is required")
	case req.CloudProjectID == "":
		return apierror.Validation("project id is required")
	case req.ClusterID == "":
		return apierror.Validation("cluster id is required")
	}
	return nil
}

func labels(appName string) map[string]string {
	return map[string]string{"app": appName}
}

// desiredDeployment builds the target apps/v1 Deployment: one container
// named <app>-container running image:tag.
func desiredDeployment(req Request) *appsv1.Deployment {
	replicas := req.Replicas
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      req.DeploymentName,
			Namespace: req.Namespace,
			Labels:    labels(req.AppName),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels(req.AppName)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels(req.AppName)},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  req.AppName + "-container",
						Image: req.Image + ":" + req.Tag,
					}},
				},
			},
		},
	}
}
