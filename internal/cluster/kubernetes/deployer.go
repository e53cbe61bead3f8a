package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/retry"
	"k8s.io/utils/ptr"
)

const (
	workloadLabel  = "autodeployhub.io/workload"
	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "autodeployhub"
)

// Config controls how workloads are applied to the cluster.
type Config struct {
	Namespace       string
	ContainerPort   int
	ReplaceExisting bool
	RolloutTimeout  time.Duration
}

// Deployer creates and updates workload Deployments and Services.
type Deployer struct {
	client          kubernetes.Interface
	namespace       string
	containerPort   int
	replaceExisting bool
	rolloutTimeout  time.Duration
	logger          *slog.Logger
}

// New creates a Deployer. It prefers in-cluster configuration and falls back to
// the standard kubeconfig loading rules (KUBECONFIG, then ~/.kube/config).
func New(cfg Config, log *slog.Logger) (*Deployer, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		loader := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{})
		var kubeErr error
		restCfg, kubeErr = loader.ClientConfig()
		if kubeErr != nil {
			return nil, fmt.Errorf("load kubernetes config: in-cluster: %v; kubeconfig: %w", err, kubeErr)
		}
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return NewWithClient(clientset, cfg, log), nil
}

// NewWithClient creates a Deployer around an existing clientset.
func NewWithClient(client kubernetes.Interface, cfg Config, log *slog.Logger) *Deployer {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.ContainerPort <= 0 {
		cfg.ContainerPort = 8000
	}
	if log == nil {
		log = slog.Default()
	}
	return &Deployer{
		client:          client,
		namespace:       cfg.Namespace,
		containerPort:   cfg.ContainerPort,
		replaceExisting: cfg.ReplaceExisting,
		rolloutTimeout:  cfg.RolloutTimeout,
		logger:          log,
	}
}

// Ping checks that the API server answers.
func (d *Deployer) Ping(ctx context.Context) error {
	if _, err := d.client.Discovery().ServerVersion(); err != nil {
		return fmt.Errorf("kubernetes server version: %w", err)
	}
	return ctx.Err()
}

// CreateOrUpdate applies the Deployment and Service for name running image.
// It returns false without error when the Deployment already exists and the
// deployer is configured not to replace existing workloads.
func (d *Deployer) CreateOrUpdate(ctx context.Context, name, image string) (bool, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false, fmt.Errorf("workload name required")
	}
	if strings.TrimSpace(image) == "" {
		return false, fmt.Errorf("image reference required")
	}

	applied, err := d.applyDeployment(ctx, d.desiredDeployment(name, image))
	if err != nil || !applied {
		return applied, err
	}
	if err := d.applyService(ctx, d.desiredService(name)); err != nil {
		return false, err
	}
	if err := d.waitForRollout(ctx, name); err != nil {
		return false, err
	}
	d.logger.Info("kubernetes workload applied", "workload", name, "image", image, "namespace", d.namespace)
	return true, nil
}

// UpdateOnly points the first container of an existing Deployment at image.
// It returns false without error when the Deployment does not exist.
func (d *Deployer) UpdateOnly(ctx context.Context, name, image string) (bool, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false, fmt.Errorf("workload name required")
	}
	deployments := d.client.AppsV1().Deployments(d.namespace)
	missing := false
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		existing, err := deployments.Get(ctx, name, metav1.GetOptions{})
		if errors.IsNotFound(err) {
			missing = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("get deployment: %w", err)
		}
		containers := existing.Spec.Template.Spec.Containers
		if len(containers) == 0 {
			return fmt.Errorf("deployment %s has no containers", name)
		}
		containers[0].Image = image
		_, err = deployments.Update(ctx, existing, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("update deployment image: %w", err)
	}
	if missing {
		d.logger.Warn("kubernetes deployment not found for image update", "workload", name, "namespace", d.namespace)
		return false, nil
	}
	if err := d.waitForRollout(ctx, name); err != nil {
		return false, err
	}
	d.logger.Info("kubernetes deployment image updated", "workload", name, "image", image, "namespace", d.namespace)
	return true, nil
}

func (d *Deployer) applyDeployment(ctx context.Context, desired *appsv1.Deployment) (bool, error) {
	deployments := d.client.AppsV1().Deployments(d.namespace)
	_, err := deployments.Create(ctx, desired, metav1.CreateOptions{})
	if err == nil {
		return true, nil
	}
	if !errors.IsAlreadyExists(err) {
		return false, fmt.Errorf("create deployment: %w", err)
	}
	if !d.replaceExisting {
		d.logger.Warn("kubernetes deployment already exists, not replaced", "workload", desired.Name, "namespace", d.namespace)
		return false, nil
	}
	existing, getErr := deployments.Get(ctx, desired.Name, metav1.GetOptions{})
	if getErr != nil {
		return false, fmt.Errorf("get deployment: %w", getErr)
	}
	desired.ResourceVersion = existing.ResourceVersion
	if _, err := deployments.Update(ctx, desired, metav1.UpdateOptions{}); err != nil {
		return false, fmt.Errorf("update deployment: %w", err)
	}
	return true, nil
}

func (d *Deployer) applyService(ctx context.Context, desired *corev1.Service) error {
	services := d.client.CoreV1().Services(d.namespace)
	_, err := services.Create(ctx, desired, metav1.CreateOptions{})
	if err == nil {
		return nil
	}
	if !errors.IsAlreadyExists(err) {
		return fmt.Errorf("create service: %w", err)
	}
	existing, getErr := services.Get(ctx, desired.Name, metav1.GetOptions{})
	if getErr != nil {
		return fmt.Errorf("get service: %w", getErr)
	}
	desired.ResourceVersion = existing.ResourceVersion
	desired.Spec.ClusterIP = existing.Spec.ClusterIP
	desired.Spec.ClusterIPs = existing.Spec.ClusterIPs
	if _, err := services.Update(ctx, desired, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	return nil
}

// waitForRollout blocks until the Deployment reports all replicas updated and
// available. It is a no-op when no rollout timeout is configured.
func (d *Deployer) waitForRollout(ctx context.Context, name string) error {
	if d.rolloutTimeout <= 0 {
		return nil
	}
	deployments := d.client.AppsV1().Deployments(d.namespace)
	err := wait.PollUntilContextTimeout(ctx, 2*time.Second, d.rolloutTimeout, true, func(ctx context.Context) (bool, error) {
		dep, err := deployments.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		return rolloutComplete(dep), nil
	})
	if err == nil {
		return nil
	}
	if reason := d.podFailureReason(ctx, name); reason != "" {
		return fmt.Errorf("wait for rollout of %s: %w (%s)", name, err, reason)
	}
	return fmt.Errorf("wait for rollout of %s: %w", name, err)
}

func (d *Deployer) podFailureReason(ctx context.Context, name string) string {
	pods, err := d.client.CoreV1().Pods(d.namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector(name)})
	if err != nil {
		return ""
	}
	for _, pod := range pods.Items {
		if isPodReady(&pod) {
			continue
		}
		if pod.Status.Message != "" {
			return pod.Status.Message
		}
		if reason := containerReason(pod.Status.ContainerStatuses); reason != "" {
			return reason
		}
	}
	return ""
}

func (d *Deployer) desiredDeployment(name, image string) *appsv1.Deployment {
	labels := workloadLabels(name)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: d.namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas:             ptr.To[int32](1),
			RevisionHistoryLimit: ptr.To[int32](5),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{workloadLabel: name},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{d.workloadContainer(name, image)},
				},
			},
		},
	}
}

func (d *Deployer) desiredService(name string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: d.namespace,
			Labels:    workloadLabels(name),
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{workloadLabel: name},
			Ports: []corev1.ServicePort{{
				Name:       "http",
				Port:       80,
				TargetPort: intstr.FromInt32(int32(d.containerPort)),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}
}

func (d *Deployer) workloadContainer(name, image string) corev1.Container {
	return corev1.Container{
		Name:  name,
		Image: image,
		// Images are built on the node's daemon and never pushed.
		ImagePullPolicy: corev1.PullIfNotPresent,
		Ports: []corev1.ContainerPort{{
			Name:          "http",
			ContainerPort: int32(d.containerPort),
		}},
		Env: []corev1.EnvVar{{
			Name:  "PORT",
			Value: fmt.Sprintf("%d", d.containerPort),
		}},
		Resources: corev1.ResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("100m"),
				corev1.ResourceMemory: resource.MustParse("128Mi"),
			},
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("500m"),
				corev1.ResourceMemory: resource.MustParse("512Mi"),
			},
		},
	}
}

func workloadLabels(name string) map[string]string {
	return map[string]string{
		workloadLabel:            name,
		"app.kubernetes.io/name": name,
		managedByLabel:           managedByValue,
	}
}

func labelSelector(name string) string {
	return fmt.Sprintf("%s=%s", workloadLabel, name)
}

func rolloutComplete(dep *appsv1.Deployment) bool {
	if dep.Generation > dep.Status.ObservedGeneration {
		return false
	}
	want := int32(1)
	if dep.Spec.Replicas != nil {
		want = *dep.Spec.Replicas
	}
	return dep.Status.UpdatedReplicas >= want &&
		dep.Status.AvailableReplicas >= want &&
		dep.Status.Replicas == dep.Status.UpdatedReplicas
}

func isPodReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

func containerReason(statuses []corev1.ContainerStatus) string {
	for _, s := range statuses {
		if s.State.Waiting != nil && s.State.Waiting.Reason != "" {
			return s.State.Waiting.Reason
		}
		if s.State.Terminated != nil && s.State.Terminated.Reason != "" {
			return s.State.Terminated.Reason
		}
	}
	return ""
}
