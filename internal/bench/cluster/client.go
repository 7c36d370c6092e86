package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	autoscalingv1 "k8s.io/api/autoscaling/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Interface operações da plataforma de orquestração consumidas pelo
// ReplicaController e pelas fontes de telemetria. Abstrai o cluster real
// para que os testes e o modo simulado usem a mesma superfície.
type Interface interface {
	// CurrentReplicas lê o número de réplicas observado de um deployment
	CurrentReplicas(ctx context.Context, deployment string) (int32, error)

	// SetReplicas define o número desejado de réplicas de um deployment
	SetReplicas(ctx context.Context, deployment string, replicas int32) error

	// MetricsEndpoints lista as URLs /metrics dos pods Running do serviço
	MetricsEndpoints(ctx context.Context) ([]string, error)
}

// K8sClient implementação real sobre client-go
type K8sClient struct {
	clientset *kubernetes.Clientset
	config    *rest.Config
	namespace string
	service   string
	appPort   int
}

// NewK8sClient cria client para o namespace/serviço alvo usando o kubeconfig
// corrente (ou in-cluster config quando disponível)
func NewK8sClient(kubecontext, namespace, service string, appPort int) (*K8sClient, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	configOverrides := &clientcmd.ConfigOverrides{
		CurrentContext: kubecontext,
	}

	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		loadingRules,
		configOverrides,
	)

	config, err := kubeConfig.ClientConfig()
	if err != nil {
		// Fallback para in-cluster (scaler rodando como pod)
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create client config: %w", err)
		}
	}

	config.Timeout = 30 * time.Second

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	log.Info().
		Str("namespace", namespace).
		Str("service", service).
		Msg("K8s client created successfully")

	return &K8sClient{
		clientset: clientset,
		config:    config,
		namespace: namespace,
		service:   service,
		appPort:   appPort,
	}, nil
}

// TestConnection valida a conexão com o cluster
func (k *K8sClient) TestConnection(ctx context.Context) error {
	_, err := k.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// CurrentReplicas lê as réplicas reportadas pelo deployment
func (k *K8sClient) CurrentReplicas(ctx context.Context, deployment string) (int32, error) {
	dep, err := k.clientset.AppsV1().Deployments(k.namespace).Get(ctx, deployment, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to get deployment %s/%s: %w", k.namespace, deployment, err)
	}

	if dep.Spec.Replicas == nil {
		return 0, nil
	}
	return *dep.Spec.Replicas, nil
}

// SetReplicas escreve o desejado via subresource scale
func (k *K8sClient) SetReplicas(ctx context.Context, deployment string, replicas int32) error {
	scale := &autoscalingv1.Scale{
		ObjectMeta: metav1.ObjectMeta{
			Name:      deployment,
			Namespace: k.namespace,
		},
		Spec: autoscalingv1.ScaleSpec{Replicas: replicas},
	}

	_, err := k.clientset.AppsV1().Deployments(k.namespace).
		UpdateScale(ctx, deployment, scale, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("failed to scale deployment %s/%s: %w", k.namespace, deployment, err)
	}

	log.Debug().
		Str("deployment", deployment).
		Int32("replicas", replicas).
		Msg("Deployment scale updated")

	return nil
}

// MetricsEndpoints lista pods Running do serviço e monta as URLs /metrics
func (k *K8sClient) MetricsEndpoints(ctx context.Context) ([]string, error) {
	pods, err := k.clientset.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("app=%s", k.service),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods for %s: %w", k.service, err)
	}

	endpoints := make([]string, 0, len(pods.Items))
	for _, pod := range pods.Items {
		if pod.Status.Phase != corev1.PodRunning || pod.Status.PodIP == "" {
			continue
		}
		endpoints = append(endpoints, fmt.Sprintf("http://%s:%d/metrics", pod.Status.PodIP, k.appPort))
	}

	return endpoints, nil
}
