package daemon

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type daemonMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newDaemonMetrics(reg *prometheus.Registry) *daemonMetrics {
	m := &daemonMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uno",
			Subsystem: "sandbox_daemon",
			Name:      "requests_total",
			Help:      "Daemon API requests by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uno",
			Subsystem: "sandbox_daemon",
			Name:      "request_duration_seconds",
			Help:      "Daemon API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (m *daemonMetrics) instrument(endpoint string, h sandboxHandler) sandboxHandler {
	return func(w http.ResponseWriter, r *http.Request, root string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, root)
		m.requests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		m.duration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}
