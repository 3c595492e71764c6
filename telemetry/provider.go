package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures OTLP span export for a bus process.
type ProviderConfig struct {
	// ServiceName identifies this process in traces. Falls back to
	// OTEL_SERVICE_NAME, then "agentbus".
	ServiceName string

	// ServiceVersion is recorded on the trace resource.
	ServiceVersion string

	// Endpoint is the OTLP collector address, host:port. Falls back to
	// OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// Protocol selects the exporter transport, "grpc" or "http".
	// Default: grpc
	Protocol string

	// Insecure disables TLS on the exporter connection.
	Insecure bool

	// Debug includes message payload content in span attributes.
	Debug bool

	// Headers are sent with every export request.
	Headers map[string]string

	// BatchTimeout caps how long spans sit in the batch processor.
	BatchTimeout time.Duration

	// ExportTimeout bounds a single export call.
	ExportTimeout time.Duration
}

// Provider owns the tracer provider and flushes it on shutdown.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer *Tracer
}

// InitProvider wires the global OpenTelemetry tracer to an OTLP collector.
// The returned Provider must be shut down to flush pending spans.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("telemetry endpoint not configured (set endpoint or OTEL_EXPORTER_OTLP_ENDPOINT)")
	}
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = os.Getenv("OTEL_SERVICE_NAME")
	}
	if serviceName == "" {
		serviceName = "agentbus"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	exporter, err := newExporter(ctx, endpoint, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	var batchOpts []sdktrace.BatchSpanProcessorOption
	if cfg.BatchTimeout > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batchOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := NewTracer(serviceName, cfg.Debug)
	SetGlobalTracer(tracer)

	return &Provider{tp: tp, tracer: tracer}, nil
}

// newExporter builds the OTLP span exporter for the configured transport.
func newExporter(ctx context.Context, endpoint string, cfg ProviderConfig) (sdktrace.SpanExporter, error) {
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = "grpc"
	}

	switch protocol {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		if cfg.ExportTimeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
		}
		return otlptracegrpc.New(ctx, opts...)

	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		if cfg.ExportTimeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(cfg.ExportTimeout))
		}
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown protocol: %s (use 'grpc' or 'http')", protocol)
	}
}

// Tracer returns the tracer bound to this provider.
func (p *Provider) Tracer() *Tracer {
	return p.tracer
}

// SetDebug toggles payload content in span attributes.
func (p *Provider) SetDebug(debug bool) {
	p.tracer.SetDebug(debug)
}

// Shutdown flushes pending spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// ForceFlush exports all buffered spans immediately.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}
