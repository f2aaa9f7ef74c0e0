// Package k8s_sandbox hosts sandboxes as Kubernetes pods running the sandbox
// daemon.
package k8s_sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/curaious/uno-sandbox/pkg/sandbox"
	"github.com/curaious/uno-sandbox/pkg/sandbox/daemon"
)

const ProviderName = "k8s"

// Config defines how sandboxes (pods) are created.
type Config struct {
	// Namespace where sandbox pods will be created.
	Namespace string

	Image string

	// Root is the daemon's sandbox root, backed by an emptyDir volume.
	Root string

	// Resource hints (K8s quantities, e.g. "500m", "1Gi").
	CPU    string
	Memory string

	// Port the sandbox daemon listens on inside the pod.
	Port int

	// RunningTimeout bounds the wait for the pod to run and get an IP.
	RunningTimeout time.Duration
	PollInterval   time.Duration

	HTTPClient *http.Client
}

// Provider is a Kubernetes-backed sandbox.Provider.
type Provider struct {
	client kubernetes.Interface
	cfg    Config

	mu      sync.RWMutex
	clients map[string]*daemon.Client
}

// NewInCluster creates a provider that uses the in-cluster configuration.
func NewInCluster(cfg Config) (*Provider, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes config: %w", err)
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return New(client, cfg), nil
}

// New creates a provider on an existing clientset.
func New(client kubernetes.Interface, cfg Config) *Provider {
	if cfg.Namespace == "" {
		cfg.Namespace = "uno-sandbox"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Root == "" {
		cfg.Root = daemon.DefaultSandboxDir
	}
	if cfg.RunningTimeout <= 0 {
		cfg.RunningTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	return &Provider{
		client:  client,
		cfg:     cfg,
		clients: make(map[string]*daemon.Client),
	}
}

func (p *Provider) Name() string {
	return ProviderName
}

func (p *Provider) Create(ctx context.Context) (*sandbox.Handle, error) {
	if p.cfg.Image == "" {
		return nil, errors.New("k8s sandbox image is required")
	}

	id := uuid.NewString()
	podName := fmt.Sprintf("sandbox-%s", id)

	pod, err := p.podSpec(podName, id)
	if err != nil {
		return nil, err
	}

	if _, err := p.client.CoreV1().Pods(p.cfg.Namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return nil, fmt.Errorf("create sandbox pod: %w", err)
	}

	// Wait for pod to be running and have an IP.
	pod, err = p.waitForRunning(ctx, podName)
	if err != nil {
		// The caller never sees a handle for this pod, so it is removed here.
		_ = p.deletePod(context.WithoutCancel(ctx), podName)
		return nil, err
	}

	endpoint := fmt.Sprintf("http://%s:%d", pod.Status.PodIP, p.cfg.Port)
	h := &sandbox.Handle{
		ID:       pod.Name,
		Provider: ProviderName,
		Meta: map[string]string{
			"namespace": p.cfg.Namespace,
			"ip":        pod.Status.PodIP,
			"endpoint":  endpoint,
		},
	}

	p.mu.Lock()
	p.clients[h.ID] = daemon.NewClient(endpoint, p.cfg.HTTPClient)
	p.mu.Unlock()

	return h, nil
}

func (p *Provider) Exec(ctx context.Context, h *sandbox.Handle, command string, timeout time.Duration) (*sandbox.ExecOutput, error) {
	c, err := p.daemonClient(h)
	if err != nil {
		return nil, err
	}
	return c.Exec(ctx, command, timeout)
}

func (p *Provider) UploadFiles(ctx context.Context, h *sandbox.Handle, files []sandbox.FileUpload) ([]sandbox.FileResponse, error) {
	c, err := p.daemonClient(h)
	if err != nil {
		return nil, err
	}
	return c.UploadFiles(ctx, files)
}

func (p *Provider) DownloadFiles(ctx context.Context, h *sandbox.Handle, paths []string) ([]sandbox.FileResponse, error) {
	c, err := p.daemonClient(h)
	if err != nil {
		return nil, err
	}
	return c.DownloadFiles(ctx, paths)
}

func (p *Provider) Delete(ctx context.Context, h *sandbox.Handle) error {
	p.mu.Lock()
	delete(p.clients, h.ID)
	p.mu.Unlock()

	if err := p.deletePod(ctx, h.ID); err != nil {
		if apierrors.IsNotFound(err) {
			err = &sandbox.NotFoundError{SandboxID: h.ID}
		}
		return fmt.Errorf("delete sandbox pod: %w", err)
	}
	return nil
}

func (p *Provider) deletePod(ctx context.Context, name string) error {
	propagation := metav1.DeletePropagationBackground
	return p.client.CoreV1().Pods(p.cfg.Namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
}

func (p *Provider) podSpec(podName, id string) (*corev1.Pod, error) {
	resources, err := p.resources()
	if err != nil {
		return nil, err
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: p.cfg.Namespace,
			Labels: map[string]string{
				"app":      "uno-sandbox",
				"sandbox":  id,
				"managed":  "uno",
				"provider": "sandbox-daemon",
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Volumes: []corev1.Volume{
				{
					Name: "workspace",
					VolumeSource: corev1.VolumeSource{
						EmptyDir: &corev1.EmptyDirVolumeSource{},
					},
				},
			},
			Containers: []corev1.Container{
				{
					Name:       "sandbox",
					Image:      p.cfg.Image,
					WorkingDir: p.cfg.Root,
					VolumeMounts: []corev1.VolumeMount{
						{Name: "workspace", MountPath: p.cfg.Root},
					},
					Env: []corev1.EnvVar{
						{Name: "SANDBOX_ROOT", Value: p.cfg.Root},
						{Name: "SANDBOX_PORT", Value: fmt.Sprintf("%d", p.cfg.Port)},
					},
					Ports: []corev1.ContainerPort{
						{
							Name:          "http",
							ContainerPort: int32(p.cfg.Port),
						},
					},
					Resources: resources,
				},
			},
		},
	}, nil
}

func (p *Provider) resources() (corev1.ResourceRequirements, error) {
	limits := corev1.ResourceList{}
	if p.cfg.CPU != "" {
		q, err := resource.ParseQuantity(p.cfg.CPU)
		if err != nil {
			return corev1.ResourceRequirements{}, fmt.Errorf("invalid cpu %s: %w", p.cfg.CPU, err)
		}
		limits[corev1.ResourceCPU] = q
	}
	if p.cfg.Memory != "" {
		q, err := resource.ParseQuantity(p.cfg.Memory)
		if err != nil {
			return corev1.ResourceRequirements{}, fmt.Errorf("invalid memory %s: %w", p.cfg.Memory, err)
		}
		limits[corev1.ResourceMemory] = q
	}
	if len(limits) == 0 {
		return corev1.ResourceRequirements{}, nil
	}
	return corev1.ResourceRequirements{Limits: limits, Requests: limits}, nil
}

func (p *Provider) waitForRunning(ctx context.Context, podName string) (*corev1.Pod, error) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	timeout := time.After(p.cfg.RunningTimeout)

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for pod %s: %w", podName, ctx.Err())
		case <-timeout:
			return nil, fmt.Errorf("timed out waiting for pod %s to become running", podName)
		case <-ticker.C:
			pod, err := p.client.CoreV1().Pods(p.cfg.Namespace).Get(ctx, podName, metav1.GetOptions{})
			if err != nil {
				continue
			}
			if pod.Status.Phase == corev1.PodFailed {
				return nil, fmt.Errorf("sandbox pod %s failed: %s", podName, pod.Status.Message)
			}
			if pod.Status.Phase == corev1.PodRunning && pod.Status.PodIP != "" {
				return pod, nil
			}
		}
	}
}

func (p *Provider) daemonClient(h *sandbox.Handle) (*daemon.Client, error) {
	p.mu.RLock()
	c := p.clients[h.ID]
	p.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	endpoint := h.Meta["endpoint"]
	if endpoint == "" {
		return nil, &sandbox.NotFoundError{SandboxID: h.ID}
	}
	c = daemon.NewClient(endpoint, p.cfg.HTTPClient)

	p.mu.Lock()
	p.clients[h.ID] = c
	p.mu.Unlock()
	return c, nil
}
