package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/curaious/uno-sandbox/internal/config"
	"github.com/curaious/uno-sandbox/internal/services"
	"github.com/curaious/uno-sandbox/internal/telemetry"
	"github.com/curaious/uno-sandbox/pkg/sandbox"
)

var (
	runCommands  []string
	runUploads   []string
	runDownloads []string
)

var sandboxRunCmd = &cobra.Command{
	Use:   "sandbox-run",
	Short: "Run commands in a fresh sandbox, then delete it",
	Long: `Provision a sandbox on the configured provider, upload files, run the
given commands in order, download files and delete the sandbox.

Uploads are given as local:remote, downloads as remote paths whose content is
written to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := config.ReadConfig()

		shutdownTelemetry := telemetry.NewProvider("sandbox-run", conf.OTEL_EXPORTER_OTLP_ENDPOINT)
		defer shutdownTelemetry()

		uploads, err := readUploads(runUploads)
		if err != nil {
			return err
		}

		svc, err := services.NewServices(conf, prometheus.NewRegistry())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		return svc.WithSandbox(ctx, func(ctx context.Context, b *sandbox.Backend) error {
			slog.InfoContext(ctx, "Sandbox ready", slog.String("sandbox_id", b.ID()))

			if len(uploads) > 0 {
				results, err := b.UploadFiles(ctx, uploads)
				if err != nil {
					return err
				}
				for _, r := range results {
					if !r.OK() {
						fmt.Fprintf(out, "upload %s: %s\n", r.Path, r.Error)
					}
				}
			}

			for _, c := range runCommands {
				res, err := b.Execute(ctx, c)
				if err != nil {
					return err
				}
				fmt.Fprint(out, res.Output)
				if res.ExitCode != 0 {
					fmt.Fprintf(out, "[exit %d]\n", res.ExitCode)
				}
			}

			if len(runDownloads) > 0 {
				results, err := b.DownloadFiles(ctx, runDownloads)
				if err != nil {
					return err
				}
				for _, r := range results {
					if !r.OK() {
						fmt.Fprintf(out, "download %s: %s\n", r.Path, r.Error)
						continue
					}
					fmt.Fprintf(out, "==> %s <==\n%s\n", r.Path, r.Content)
				}
			}
			return nil
		})
	},
}

func readUploads(specs []string) ([]sandbox.FileUpload, error) {
	files := make([]sandbox.FileUpload, 0, len(specs))
	for _, s := range specs {
		local, remote, ok := strings.Cut(s, ":")
		if !ok || local == "" || remote == "" {
			return nil, fmt.Errorf("invalid upload %q, want local:remote", s)
		}
		content, err := os.ReadFile(local)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", local, err)
		}
		files = append(files, sandbox.FileUpload{Path: remote, Content: content})
	}
	return files, nil
}

func init() {
	sandboxRunCmd.Flags().StringArrayVarP(&runCommands, "command", "c", nil, "command to execute (repeatable)")
	sandboxRunCmd.Flags().StringArrayVarP(&runUploads, "upload", "u", nil, "file to upload as local:remote (repeatable)")
	sandboxRunCmd.Flags().StringArrayVarP(&runDownloads, "download", "d", nil, "sandbox file to print (repeatable)")
	rootCmd.AddCommand(sandboxRunCmd)
}
