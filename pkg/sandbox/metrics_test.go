package sandbox

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_SessionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	p := newFakeProvider()
	p.notReadyFor = 1
	err := WithSandbox(context.Background(), p, func(ctx context.Context, b *Backend) error {
		_, err := b.Execute(ctx, "echo hi")
		return err
	}, WithPoller(fastPoller(3)), WithMetrics(m))
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			key := f.GetName()
			for _, l := range metric.GetLabel() {
				key += "," + l.GetName() + "=" + l.GetValue()
			}
			switch {
			case metric.GetCounter() != nil:
				values[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[key] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				values[key] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}

	assert.Equal(t, 1.0, values["uno_sandbox_sessions_total,outcome=ready,provider=fake"])
	assert.Equal(t, 1.0, values["uno_sandbox_readiness_attempts_total,provider=fake,result=error"])
	assert.Equal(t, 1.0, values["uno_sandbox_readiness_attempts_total,provider=fake,result=success"])
	assert.Equal(t, 1.0, values["uno_sandbox_executions_total,provider=fake,status=success"])
	assert.Equal(t, 1.0, values["uno_sandbox_deletions_total,provider=fake,status=success"])
	assert.Equal(t, 0.0, values["uno_sandbox_active,provider=fake"])
	assert.Equal(t, 1.0, values["uno_sandbox_provisioning_duration_seconds,provider=fake"])
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.session("p", "ready")
		m.execution("p", nil)
		m.deleted("p", nil)
		m.transfers("p", "upload", []FileTransferResult{{Path: "/a"}})
	})
}
