package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func newFileExporter(w io.Writer) (trace.SpanExporter, error) {
	return stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithoutTimestamps(),
	)
}

// newOTELCollectorExporter creates an exporter that sends traces to an OTEL collector
func newOTELCollectorExporter(endpoint string) (trace.SpanExporter, error) {
	// Remove protocol prefix if present
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	return otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithEndpoint(endpoint),
	)
}

func newResource(serviceName string) *resource.Resource {
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		serviceName = v
	}

	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion("0.1.0"),
	)
}

// NewProvider creates new telemetry provider, and sets it as a default open telemetry trace provider.
//
// Traces go to the OTEL collector at endpoint (e.g. "localhost:4318") when set,
// and to traces.txt otherwise.
//
// Returns a teardown func
func NewProvider(serviceName, endpoint string) func() {
	var (
		exp trace.SpanExporter
		f   *os.File
		err error
	)

	if endpoint != "" {
		exp, err = newOTELCollectorExporter(endpoint)
	} else {
		f, err = os.Create("traces.txt")
		if err != nil {
			slog.Error("Unable to create traces.txt", slog.Any("error", err))
			return func() {}
		}
		slog.Info("Using file-based tracing (traces.txt)")
		exp, err = newFileExporter(f)
	}

	if err != nil {
		slog.Error("Unable to create exporter", slog.Any("error", err))
		if f != nil {
			_ = f.Close()
		}
		return func() {}
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(newResource(serviceName)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Error("unable to shutdown trace provider", slog.Any("error", err))
		}

		if f != nil {
			if err := f.Close(); err != nil {
				slog.Error("Unable to close traces file", slog.Any("error", err))
			}
		}
	}
}
