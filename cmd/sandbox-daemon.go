package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/curaious/uno-sandbox/internal/config"
	"github.com/curaious/uno-sandbox/internal/telemetry"
	"github.com/curaious/uno-sandbox/pkg/sandbox/daemon"
)

var sandboxDaemonCmd = &cobra.Command{
	Use:   "sandbox-daemon",
	Short: "Start Sandbox Daemon",
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.ReadConfig()

		shutdownTelemetry := telemetry.NewProvider("sandbox-daemon", conf.OTEL_EXPORTER_OTLP_ENDPOINT)
		defer shutdownTelemetry()

		if err := daemon.NewSandboxDaemon(conf.SANDBOX_PORT, conf.SANDBOX_ROOT); err != nil {
			log.Fatalf("sandbox-daemon server error: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(sandboxDaemonCmd)
}
