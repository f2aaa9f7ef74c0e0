// Package docker_sandbox hosts sandboxes as local Docker containers running
// the sandbox daemon.
package docker_sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curaious/uno-sandbox/pkg/sandbox"
	"github.com/curaious/uno-sandbox/pkg/sandbox/daemon"
)

const ProviderName = "docker"

type Config struct {
	Image   string
	Network string

	// Port the sandbox daemon listens on inside the container.
	Port int
	// Root is the daemon's sandbox root inside the container.
	Root string

	// IPTimeout bounds the wait for the container to get an address.
	IPTimeout time.Duration

	// Runner executes docker CLI commands. Defaults to the docker binary.
	Runner Runner

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Runner runs one docker CLI invocation and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

type cliRunner struct{}

func (cliRunner) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}

type Provider struct {
	cfg Config

	mu      sync.RWMutex
	clients map[string]*daemon.Client
}

func New(cfg Config) *Provider {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Root == "" {
		cfg.Root = daemon.DefaultSandboxDir
	}
	if cfg.IPTimeout <= 0 {
		cfg.IPTimeout = 30 * time.Second
	}
	if cfg.Runner == nil {
		cfg.Runner = cliRunner{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Provider{
		cfg:     cfg,
		clients: make(map[string]*daemon.Client),
	}
}

func (p *Provider) Name() string {
	return ProviderName
}

func (p *Provider) Create(ctx context.Context) (*sandbox.Handle, error) {
	if p.cfg.Image == "" {
		return nil, errors.New("docker sandbox image is required")
	}

	name := fmt.Sprintf("sandbox-%s", uuid.NewString())

	args := []string{"run", "-d", "--name", name, "--label", "managed=uno"}
	if p.cfg.Network != "" {
		args = append(args, "--network", p.cfg.Network)
	}
	args = append(args,
		"-e", fmt.Sprintf("SANDBOX_PORT=%d", p.cfg.Port),
		"-e", fmt.Sprintf("SANDBOX_ROOT=%s", p.cfg.Root),
		p.cfg.Image,
	)

	if _, err := p.cfg.Runner.Run(ctx, args...); err != nil {
		return nil, fmt.Errorf("docker run: %w", err)
	}

	ip, err := p.waitForIP(ctx, name)
	if err != nil {
		// No handle leaves this function, so the container is removed here.
		if _, rmErr := p.cfg.Runner.Run(context.WithoutCancel(ctx), "rm", "-f", name); rmErr != nil {
			p.cfg.Logger.WarnContext(ctx, "unable to remove container", slog.String("container", name), slog.Any("error", rmErr))
		}
		return nil, err
	}

	endpoint := fmt.Sprintf("http://%s:%d", ip, p.cfg.Port)
	h := &sandbox.Handle{
		ID:       name,
		Provider: ProviderName,
		Meta: map[string]string{
			"ip":       ip,
			"endpoint": endpoint,
		},
	}

	p.mu.Lock()
	p.clients[name] = daemon.NewClient(endpoint, p.cfg.HTTPClient)
	p.mu.Unlock()

	return h, nil
}

func (p *Provider) Exec(ctx context.Context, h *sandbox.Handle, command string, timeout time.Duration) (*sandbox.ExecOutput, error) {
	c, err := p.client(h)
	if err != nil {
		return nil, err
	}
	return c.Exec(ctx, command, timeout)
}

func (p *Provider) UploadFiles(ctx context.Context, h *sandbox.Handle, files []sandbox.FileUpload) ([]sandbox.FileResponse, error) {
	c, err := p.client(h)
	if err != nil {
		return nil, err
	}
	return c.UploadFiles(ctx, files)
}

func (p *Provider) DownloadFiles(ctx context.Context, h *sandbox.Handle, paths []string) ([]sandbox.FileResponse, error) {
	c, err := p.client(h)
	if err != nil {
		return nil, err
	}
	return c.DownloadFiles(ctx, paths)
}

func (p *Provider) Delete(ctx context.Context, h *sandbox.Handle) error {
	if _, err := p.cfg.Runner.Run(ctx, "rm", "-f", h.ID); err != nil {
		if strings.Contains(err.Error(), "No such container") {
			err = &sandbox.NotFoundError{SandboxID: h.ID}
		}
		return fmt.Errorf("docker rm: %w", err)
	}

	p.mu.Lock()
	delete(p.clients, h.ID)
	p.mu.Unlock()
	return nil
}

// --- helpers ---

func (p *Provider) client(h *sandbox.Handle) (*daemon.Client, error) {
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

func (p *Provider) waitForIP(ctx context.Context, name string) (string, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	deadline := time.After(p.cfg.IPTimeout)
	for {
		ip, _ := p.inspectIP(ctx, name)
		if ip != "" {
			return ip, nil
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for container %s: %w", name, ctx.Err())
		case <-deadline:
			return "", fmt.Errorf("container %s did not get an IP", name)
		case <-ticker.C:
		}
	}
}

func (p *Provider) inspectIP(ctx context.Context, name string) (string, error) {
	// Grab container IP from its networks
	out, err := p.cfg.Runner.Run(ctx, "inspect",
		"-f", "{{range .NetworkSettings.Networks}}{{.IPAddress}}{{end}}", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
