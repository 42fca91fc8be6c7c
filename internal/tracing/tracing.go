// Package tracing wires the OpenTelemetry SDK used for room lifecycle spans.
package tracing

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	// EndpointEnv is the standard OTLP collector endpoint.
	EndpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"
	// TracesEndpointEnv overrides the endpoint for traces only.
	TracesEndpointEnv = "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"
	// DisableEnv turns tracing off even when an endpoint is configured.
	DisableEnv = "RACE_TRACING_ENABLED"
)

// Enabled reports whether the environment asks for span export.
func Enabled() bool {
	if strings.EqualFold(strings.TrimSpace(os.Getenv(DisableEnv)), "false") {
		return false
	}
	return strings.TrimSpace(os.Getenv(EndpointEnv)) != "" || strings.TrimSpace(os.Getenv(TracesEndpointEnv)) != ""
}

// Setup installs a global tracer provider exporting over OTLP/HTTP.
//
// Tracing is opt-in: without an OTLP endpoint Setup registers nothing and
// returns a no-op shutdown. The exporter reads the standard OTEL_EXPORTER_OTLP_*
// variables itself, so headers and TLS follow the collector's usual settings.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !Enabled() {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return noop, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return provider.Shutdown, nil
}
