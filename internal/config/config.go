package config

import (
	"log/slog"
	"os"
	"path"
	"strconv"
	"time"
)

type Config struct {
	// Provider selection: daytona, docker or k8s.
	SANDBOX_PROVIDER string

	DAYTONA_API_KEY string
	DAYTONA_API_URL string
	DAYTONA_TARGET  string

	// Paths inside the sandbox.
	SANDBOX_BASE_PATH string
	SKILLS_BASE_PATH  string

	// Local support files seeded into every sandbox.
	SKILLS_SOURCE_DIR   string
	MAX_SKILL_FILE_SIZE int64

	// Readiness polling.
	SANDBOX_POLL_ATTEMPTS int
	SANDBOX_POLL_DELAY    time.Duration
	SANDBOX_POLL_TIMEOUT  time.Duration

	SANDBOX_EXEC_TIMEOUT    time.Duration
	SANDBOX_CLEANUP_TIMEOUT time.Duration

	// Docker and Kubernetes providers.
	SANDBOX_IMAGE     string
	SANDBOX_NAMESPACE string
	SANDBOX_NETWORK   string
	SANDBOX_CPU       string
	SANDBOX_MEMORY    string

	// In-sandbox daemon.
	SANDBOX_PORT string
	SANDBOX_ROOT string

	// Otel
	OTEL_EXPORTER_OTLP_ENDPOINT string
}

func ReadConfig() *Config {
	basePath := GetEnvOrDefault("SANDBOX_BASE_PATH", "/home/daytona")

	return &Config{
		SANDBOX_PROVIDER: GetEnvOrDefault("SANDBOX_PROVIDER", "daytona"),

		DAYTONA_API_KEY: os.Getenv("DAYTONA_API_KEY"),
		DAYTONA_API_URL: GetEnvOrDefault("DAYTONA_API_URL", "https://app.daytona.io/api"),
		DAYTONA_TARGET:  os.Getenv("DAYTONA_TARGET"),

		SANDBOX_BASE_PATH: basePath,
		SKILLS_BASE_PATH:  GetEnvOrDefault("SKILLS_BASE_PATH", path.Join(basePath, "skills")),

		SKILLS_SOURCE_DIR:   GetEnvOrDefault("SKILLS_SOURCE_DIR", "skills"),
		MAX_SKILL_FILE_SIZE: getInt64OrDefault("MAX_SKILL_FILE_SIZE", 10*1024*1024),

		SANDBOX_POLL_ATTEMPTS: int(getInt64OrDefault("SANDBOX_POLL_ATTEMPTS", 90)),
		SANDBOX_POLL_DELAY:    getDurationOrDefault("SANDBOX_POLL_DELAY", 2*time.Second),
		SANDBOX_POLL_TIMEOUT:  getDurationOrDefault("SANDBOX_POLL_TIMEOUT", 5*time.Second),

		SANDBOX_EXEC_TIMEOUT:    getDurationOrDefault("SANDBOX_EXEC_TIMEOUT", 0),
		SANDBOX_CLEANUP_TIMEOUT: getDurationOrDefault("SANDBOX_CLEANUP_TIMEOUT", 60*time.Second),

		SANDBOX_IMAGE:     GetEnvOrDefault("SANDBOX_IMAGE", "ghcr.io/curaious/uno-sandbox:latest"),
		SANDBOX_NAMESPACE: GetEnvOrDefault("SANDBOX_NAMESPACE", "uno-sandbox"),
		SANDBOX_NETWORK:   os.Getenv("SANDBOX_NETWORK"),
		SANDBOX_CPU:       os.Getenv("SANDBOX_CPU"),
		SANDBOX_MEMORY:    os.Getenv("SANDBOX_MEMORY"),

		SANDBOX_PORT: GetEnvOrDefault("SANDBOX_PORT", "8080"),
		SANDBOX_ROOT: GetEnvOrDefault("SANDBOX_ROOT", "/sandbox/workspace"),

		OTEL_EXPORTER_OTLP_ENDPOINT: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		slog.Warn("Invalid integer in environment, using default", slog.String("key", key), slog.String("value", value))
		return defaultValue
	}
	return n
}

// getDurationOrDefault accepts Go durations ("2s", "1m30s") or plain seconds.
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	slog.Warn("Invalid duration in environment, using default", slog.String("key", key), slog.String("value", value))
	return defaultValue
}
