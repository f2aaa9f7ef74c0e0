package sandbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for sandbox sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsTotal        *prometheus.CounterVec
	ProvisioningDuration *prometheus.HistogramVec
	ReadinessAttempts    *prometheus.CounterVec
	ExecutionsTotal      *prometheus.CounterVec
	FileTransfersTotal   *prometheus.CounterVec
	DeletionsTotal       *prometheus.CounterVec
	ActiveSandboxes      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uno",
			Subsystem: "sandbox",
			Name:      "sessions_total",
			Help:      "Sandbox sessions by provisioning outcome.",
		}, []string{"provider", "outcome"}),

		ProvisioningDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uno",
			Subsystem: "sandbox",
			Name:      "provisioning_duration_seconds",
			Help:      "Time from create request until the sandbox is ready.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 180},
		}, []string{"provider"}),

		ReadinessAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uno",
			Subsystem: "sandbox",
			Name:      "readiness_attempts_total",
			Help:      "Readiness probe attempts by result.",
		}, []string{"provider", "result"}),

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uno",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Commands executed in sandboxes.",
		}, []string{"provider", "status"}),

		FileTransfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uno",
			Subsystem: "sandbox",
			Name:      "file_transfers_total",
			Help:      "Files moved to or from sandboxes, by per-file outcome.",
		}, []string{"provider", "direction", "status"}),

		DeletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uno",
			Subsystem: "sandbox",
			Name:      "deletions_total",
			Help:      "Sandbox deletion calls.",
		}, []string{"provider", "status"}),

		ActiveSandboxes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "uno",
			Subsystem: "sandbox",
			Name:      "active",
			Help:      "Sandboxes created and not yet deleted.",
		}, []string{"provider"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SessionsTotal,
			m.ProvisioningDuration,
			m.ReadinessAttempts,
			m.ExecutionsTotal,
			m.FileTransfersTotal,
			m.DeletionsTotal,
			m.ActiveSandboxes,
		)
	}
	return m
}

func (m *Metrics) session(provider, outcome string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) provisioned(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProvisioningDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) readiness(provider string, err error) {
	if m == nil {
		return
	}
	m.ReadinessAttempts.WithLabelValues(provider, status(err)).Inc()
}

func (m *Metrics) execution(provider string, err error) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(provider, status(err)).Inc()
}

func (m *Metrics) transfers(provider, direction string, results []FileTransferResult) {
	if m == nil {
		return
	}
	for _, r := range results {
		s := "success"
		if !r.OK() {
			s = string(r.Error)
		}
		m.FileTransfersTotal.WithLabelValues(provider, direction, s).Inc()
	}
}

func (m *Metrics) created(provider string) {
	if m == nil {
		return
	}
	m.ActiveSandboxes.WithLabelValues(provider).Inc()
}

func (m *Metrics) deleted(provider string, err error) {
	if m == nil {
		return
	}
	m.DeletionsTotal.WithLabelValues(provider, status(err)).Inc()
	m.ActiveSandboxes.WithLabelValues(provider).Dec()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
