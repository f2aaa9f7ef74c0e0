package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/curaious/uno-sandbox/internal/config"
	"github.com/curaious/uno-sandbox/pkg/sandbox"
	"github.com/curaious/uno-sandbox/pkg/sandbox/daytona_sandbox"
	"github.com/curaious/uno-sandbox/pkg/sandbox/docker_sandbox"
	"github.com/curaious/uno-sandbox/pkg/sandbox/k8s_sandbox"
)

type Services struct {
	Sandbox sandbox.Provider
	Metrics *sandbox.Metrics

	conf   *config.Config
	logger *slog.Logger
}

// NewServices wires the configured sandbox provider. Metrics are registered
// on reg when it is non-nil.
func NewServices(conf *config.Config, reg prometheus.Registerer) (*Services, error) {
	provider, err := NewProvider(conf)
	if err != nil {
		return nil, err
	}

	svc := &Services{
		Sandbox: provider,
		conf:    conf,
		logger:  slog.Default(),
	}
	if reg != nil {
		svc.Metrics = sandbox.NewMetrics(reg)
	}

	slog.Info("Sandbox provider initialized",
		slog.String("provider", provider.Name()),
		slog.String("skills_source", conf.SKILLS_SOURCE_DIR),
		slog.String("skills_dest", conf.SKILLS_BASE_PATH))

	return svc, nil
}

// NewProvider returns the provider selected by SANDBOX_PROVIDER.
func NewProvider(conf *config.Config) (sandbox.Provider, error) {
	switch conf.SANDBOX_PROVIDER {
	case daytona_sandbox.ProviderName, "":
		return daytona_sandbox.New(daytona_sandbox.Config{
			APIKey:  conf.DAYTONA_API_KEY,
			BaseURL: conf.DAYTONA_API_URL,
			Target:  conf.DAYTONA_TARGET,
		})

	case docker_sandbox.ProviderName:
		port, err := parsePort(conf.SANDBOX_PORT)
		if err != nil {
			return nil, err
		}
		return docker_sandbox.New(docker_sandbox.Config{
			Image:   conf.SANDBOX_IMAGE,
			Network: conf.SANDBOX_NETWORK,
			Port:    port,
			Root:    conf.SANDBOX_ROOT,
		}), nil

	case k8s_sandbox.ProviderName:
		port, err := parsePort(conf.SANDBOX_PORT)
		if err != nil {
			return nil, err
		}
		return k8s_sandbox.NewInCluster(k8s_sandbox.Config{
			Namespace: conf.SANDBOX_NAMESPACE,
			Image:     conf.SANDBOX_IMAGE,
			Root:      conf.SANDBOX_ROOT,
			CPU:       conf.SANDBOX_CPU,
			Memory:    conf.SANDBOX_MEMORY,
			Port:      port,
		})
	}

	return nil, fmt.Errorf("unknown sandbox provider %q", conf.SANDBOX_PROVIDER)
}

// SessionOptions translates the configuration into session options.
func (s *Services) SessionOptions() []sandbox.Option {
	return []sandbox.Option{
		sandbox.WithLogger(s.logger),
		sandbox.WithMetrics(s.Metrics),
		sandbox.WithPoller(sandbox.Poller{
			Attempts:       s.conf.SANDBOX_POLL_ATTEMPTS,
			Delay:          s.conf.SANDBOX_POLL_DELAY,
			AttemptTimeout: s.conf.SANDBOX_POLL_TIMEOUT,
		}),
		sandbox.WithSeed(sandbox.SeedConfig{
			SourceDir:   s.conf.SKILLS_SOURCE_DIR,
			DestDir:     s.conf.SKILLS_BASE_PATH,
			MaxFileSize: s.conf.MAX_SKILL_FILE_SIZE,
		}),
		sandbox.WithExecTimeout(s.conf.SANDBOX_EXEC_TIMEOUT),
		sandbox.WithCleanupTimeout(s.conf.SANDBOX_CLEANUP_TIMEOUT),
	}
}

// NewSession returns a session on the configured provider.
func (s *Services) NewSession(opts ...sandbox.Option) *sandbox.Session {
	return sandbox.NewSession(s.Sandbox, append(s.SessionOptions(), opts...)...)
}

// WithSandbox runs fn against a fresh sandbox on the configured provider.
func (s *Services) WithSandbox(ctx context.Context, fn func(ctx context.Context, b *sandbox.Backend) error) error {
	return sandbox.WithSandbox(ctx, s.Sandbox, fn, s.SessionOptions()...)
}

func parsePort(v string) (int, error) {
	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid SANDBOX_PORT %q", v)
	}
	return port, nil
}
