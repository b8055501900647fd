package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/monto-broker/broker/internal/config"
)

// KubernetesSource discovers analysis services by listing Kubernetes
// Service objects matching a label selector in a namespace, supplementing
// the static [[service]] list. Adapted from the teacher's Secrets-oriented
// k8s client: services instead of publishing-target secrets, but the same
// in-cluster-config + clientset + List-with-label-selector shape.
type KubernetesSource struct {
	clientset     kubernetes.Interface
	namespace     string
	labelSelector string
	log           *slog.Logger
	timeout       time.Duration
}

// NewKubernetes builds a KubernetesSource using in-cluster configuration.
func NewKubernetes(cfg config.DiscoveryConfig, log *slog.Logger) (*KubernetesSource, error) {
	if log == nil {
		log = slog.Default()
	}
	k8sConfig, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("loading in-cluster config: %w", err)
	}
	k8sConfig.Timeout = 30 * time.Second

	clientset, err := kubernetes.NewForConfig(k8sConfig)
	if err != nil {
		return nil, fmt.Errorf("creating k8s clientset: %w", err)
	}

	return &KubernetesSource{
		clientset:     clientset,
		namespace:     cfg.Namespace,
		labelSelector: cfg.LabelSelector,
		log:           log,
		timeout:       30 * time.Second,
	}, nil
}

// Discover lists Service objects in the namespace matching the label
// selector and converts each into a Discovered service reachable at
// "{name}.{namespace}.svc.cluster.local:{port}".
func (k *KubernetesSource) Discover() ([]Discovered, error) {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	list, err := k.clientset.CoreV1().Services(k.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: k.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("listing services in %s: %w", k.namespace, err)
	}

	out := make([]Discovered, 0, len(list.Items))
	for _, svc := range list.Items {
		port := firstHTTPPort(svc)
		if port == 0 {
			k.log.Warn("discovered service has no usable port, skipping", "service", svc.Name)
			continue
		}
		out = append(out, Discovered{
			ServiceConfig: config.ServiceConfig{
				Addr:   fmt.Sprintf("%s.%s.svc.cluster.local:%d", svc.Name, svc.Namespace, port),
				Base:   "/monto",
				Scheme: "http",
			},
			Source: "kubernetes",
		})
	}
	return out, nil
}

func firstHTTPPort(svc corev1.Service) int32 {
	for _, p := range svc.Spec.Ports {
		if p.Name == "monto" || p.Name == "http" || p.Name == "" {
			return p.Port
		}
	}
	if len(svc.Spec.Ports) > 0 {
		return svc.Spec.Ports[0].Port
	}
	return 0
}
