// Package telemetry installs the OpenTelemetry tracer provider used by the
// pipe and upstream spans.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/n0madic/go-claudebridge/internal/config"
)

// InstrumentationName is the tracer name shared by the bridge packages.
const InstrumentationName = "github.com/n0madic/go-claudebridge"

// stdoutOut receives spans from the stdout exporter. Tests swap it.
var stdoutOut io.Writer = os.Stderr

func noopShutdown(context.Context) error { return nil }

// Tracer returns the bridge tracer from the global provider. Without Init it
// is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Init configures tracing from cfg. The returned function flushes exporters
// and must be called on shutdown. An OTLP exporter without an endpoint
// leaves the no-op provider in place.
func Init(ctx context.Context, cfg config.TelemetryConfig, version string) (func(context.Context) error, error) {
	if cfg.Disable {
		return noopShutdown, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "claudebridge"
	}

	exp, err := newExporter(ctx, cfg.Exporter)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return noopShutdown, nil
	}

	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(cfg.ServiceName)}
	if version != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(version))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("telemetry.shutdown.failed", "error", err)
			return err
		}
		return nil
	}, nil
}

func newExporter(ctx context.Context, kind string) (sdktrace.SpanExporter, error) {
	switch kind {
	case config.ExporterStdout:
		slog.Info("telemetry.exporter.stdout")
		return stdouttrace.New(stdouttrace.WithWriter(stdoutOut), stdouttrace.WithPrettyPrint())
	case "", config.ExporterOTLP:
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter %q", kind)
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		slog.Warn("telemetry.disabled", "reason", "OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create OTLP exporter: %w", err)
	}
	slog.Info("telemetry.exporter.otlp", "endpoint", endpoint)
	return exp, nil
}

// End finalizes a span and records err.
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
