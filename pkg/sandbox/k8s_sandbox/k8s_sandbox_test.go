package k8s_sandbox

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/curaious/uno-sandbox/pkg/sandbox"
	"github.com/curaious/uno-sandbox/pkg/sandbox/daemon"
)

// newFakeClient returns a clientset whose pods start Running on 127.0.0.1
// as soon as they are created, unless phase says otherwise.
func newFakeClient(phase corev1.PodPhase) *fake.Clientset {
	client := fake.NewSimpleClientset()
	client.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		pod := action.(k8stesting.CreateAction).GetObject().(*corev1.Pod)
		pod.Status.Phase = phase
		if phase == corev1.PodRunning {
			pod.Status.PodIP = "127.0.0.1"
		}
		return false, nil, nil
	})
	return client
}

func daemonPort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(daemon.NewHandler(t.TempDir(), prometheus.NewRegistry()))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestCreate(t *testing.T) {
	client := newFakeClient(corev1.PodRunning)
	p := New(client, Config{
		Image:        "ghcr.io/curaious/uno-sandbox:latest",
		CPU:          "500m",
		Memory:       "256Mi",
		Port:         9090,
		PollInterval: 10 * time.Millisecond,
	})

	h, err := p.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ProviderName, h.Provider)
	assert.Equal(t, "http://127.0.0.1:9090", h.Meta["endpoint"])

	pod, err := client.CoreV1().Pods("uno-sandbox").Get(context.Background(), h.ID, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, corev1.RestartPolicyNever, pod.Spec.RestartPolicy)
	require.Len(t, pod.Spec.Containers, 1)

	c := pod.Spec.Containers[0]
	assert.Equal(t, "ghcr.io/curaious/uno-sandbox:latest", c.Image)
	assert.Equal(t, int32(9090), c.Ports[0].ContainerPort)
	assert.Equal(t, "500m", c.Resources.Limits.Cpu().String())
	assert.Equal(t, "256Mi", c.Resources.Limits.Memory().String())
	assert.Contains(t, c.Env, corev1.EnvVar{Name: "SANDBOX_ROOT", Value: "/sandbox/workspace"})
	require.Len(t, pod.Spec.Volumes, 1)
	assert.NotNil(t, pod.Spec.Volumes[0].EmptyDir)
}

func TestCreate_PodFailedIsDeleted(t *testing.T) {
	client := newFakeClient(corev1.PodFailed)
	p := New(client, Config{Image: "img", PollInterval: 10 * time.Millisecond})

	_, err := p.Create(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")

	pods, err := client.CoreV1().Pods("uno-sandbox").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, pods.Items)
}

func TestCreate_InvalidResources(t *testing.T) {
	p := New(newFakeClient(corev1.PodRunning), Config{Image: "img", CPU: "lots"})

	_, err := p.Create(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cpu")
}

func TestSessionOverDaemon(t *testing.T) {
	client := newFakeClient(corev1.PodRunning)
	p := New(client, Config{
		Image:        "img",
		Port:         daemonPort(t),
		PollInterval: 10 * time.Millisecond,
	})

	var id string
	err := sandbox.WithSandbox(context.Background(), p, func(ctx context.Context, b *sandbox.Backend) error {
		id = b.ID()
		res, err := b.Execute(ctx, "echo hi")
		require.NoError(t, err)
		assert.Equal(t, "hi\n", res.Output)
		return nil
	}, sandbox.WithPoller(sandbox.Poller{Attempts: 3, Delay: -1}))
	require.NoError(t, err)

	_, err = client.CoreV1().Pods("uno-sandbox").Get(context.Background(), id, metav1.GetOptions{})
	assert.Error(t, err, "pod is deleted when the session ends")
}

func TestDelete_NotFound(t *testing.T) {
	p := New(fake.NewSimpleClientset(), Config{Image: "img"})

	err := p.Delete(context.Background(), &sandbox.Handle{ID: "sandbox-missing"})
	var nf *sandbox.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "sandbox-missing", nf.SandboxID)
}
