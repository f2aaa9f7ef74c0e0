package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func serviceName(t *testing.T, name string) string {
	t.Helper()
	v, ok := newResource(name).Set().Value(semconv.ServiceNameKey)
	assert.True(t, ok)
	return v.AsString()
}

func TestNewResource(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	assert.Equal(t, "sandbox-daemon", serviceName(t, "sandbox-daemon"))

	t.Setenv("OTEL_SERVICE_NAME", "sandbox-eu")
	assert.Equal(t, "sandbox-eu", serviceName(t, "sandbox-daemon"))
}
