package services

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curaious/uno-sandbox/internal/config"
	"github.com/curaious/uno-sandbox/pkg/sandbox/daytona_sandbox"
	"github.com/curaious/uno-sandbox/pkg/sandbox/docker_sandbox"
)

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(&config.Config{SANDBOX_PROVIDER: "daytona", DAYTONA_API_KEY: "k"})
	require.NoError(t, err)
	assert.Equal(t, daytona_sandbox.ProviderName, p.Name())

	p, err = NewProvider(&config.Config{SANDBOX_PROVIDER: "docker", SANDBOX_PORT: "8080"})
	require.NoError(t, err)
	assert.Equal(t, docker_sandbox.ProviderName, p.Name())
}

func TestNewProvider_Errors(t *testing.T) {
	tests := []struct {
		name string
		conf config.Config
	}{
		{"unknown provider", config.Config{SANDBOX_PROVIDER: "lambda"}},
		{"daytona without key", config.Config{SANDBOX_PROVIDER: "daytona"}},
		{"bad port", config.Config{SANDBOX_PROVIDER: "docker", SANDBOX_PORT: "http"}},
		{"port out of range", config.Config{SANDBOX_PROVIDER: "docker", SANDBOX_PORT: "70000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(&tt.conf)
			assert.Error(t, err)
		})
	}
}

func TestNewServices(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc, err := NewServices(&config.Config{
		SANDBOX_PROVIDER:      "docker",
		SANDBOX_PORT:          "8080",
		SANDBOX_POLL_ATTEMPTS: 3,
		SANDBOX_POLL_DELAY:    time.Second,
	}, reg)
	require.NoError(t, err)
	require.NotNil(t, svc.Metrics)
	assert.Len(t, svc.SessionOptions(), 6)

	s := svc.NewSession()
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "uninitialized", s.State().String())
}
