// Package telemetry configures OpenTelemetry tracing for the jive server.
//
// Custom span attributes use the `jive.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "mcp-jive.dev/server"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("jive-server"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartToolCallSpan creates the parent span for one MCP tool dispatch.
func StartToolCallSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "mcp.tool_call",
		trace.WithAttributes(
			attribute.String("jive.tool", tool),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// EndToolCallSpan enriches the tool span with result data.
func EndToolCallSpan(span trace.Span, status string, truncated bool) {
	span.SetAttributes(
		attribute.String("jive.status", status),
		attribute.Bool("jive.truncated", truncated),
	)
	span.End()
}

// StartSearchSpan creates a child span for a storage search.
func StartSearchSpan(ctx context.Context, table, mode string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "storage.search",
		trace.WithAttributes(
			attribute.String("jive.table", table),
			attribute.String("jive.search_mode", mode),
		),
	)
}

// StartEmbedSpan creates a child span for an embedding call.
func StartEmbedSpan(ctx context.Context, provider string, textLen int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "embedding.embed",
		trace.WithAttributes(
			attribute.String("jive.embed_provider", provider),
			attribute.Int("jive.text_chars", textLen),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
