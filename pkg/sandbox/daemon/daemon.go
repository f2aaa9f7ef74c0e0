package daemon

import (
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultPort       = "8080"
	DefaultSandboxDir = "/sandbox/workspace"
)

// NewHandler returns the daemon's HTTP API serving files under root.
// Daemon metrics are registered on reg and exposed on /metrics.
func NewHandler(root string, reg *prometheus.Registry) http.Handler {
	root = filepath.Clean(root)
	m := newDaemonMetrics(reg)

	mux := http.NewServeMux()

	// Exec endpoints
	mux.Handle("/exec/shell", withJSON(withSandboxRoot(root, m.instrument("exec", handleExecShell))))

	// Batch file endpoints
	mux.Handle("/files/upload", withJSON(withSandboxRoot(root, m.instrument("upload", handleUpload))))
	mux.Handle("/files/download", withJSON(withSandboxRoot(root, m.instrument("download", handleDownload))))

	// Health
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return mux
}

// NewSandboxDaemon serves the daemon API on port until the server fails.
func NewSandboxDaemon(port, root string) error {
	if port == "" {
		port = DefaultPort
	}
	if root == "" {
		root = DefaultSandboxDir
	}

	addr := ":" + port
	slog.Info("sandbox-daemon listening", slog.String("addr", addr), slog.String("root", filepath.Clean(root)))

	return http.ListenAndServe(addr, NewHandler(root, prometheus.NewRegistry()))
}
