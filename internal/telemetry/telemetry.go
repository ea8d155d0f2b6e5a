// Package telemetry wires OpenTelemetry metrics and traces over OTLP/gRPC.
// When disabled, the global no-op providers stay in place and every
// instrument below still works.
package telemetry

import (
	"context"
	"log"
	"time"

	"listing-inspector/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "listing-inspector"

// ShutdownFunc flushes and stops a provider
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

func newResource(service string) *sdkresource.Resource {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	return res
}

// InitMetrics installs a global meter provider pushing to the OTLP endpoint
func InitMetrics(ctx context.Context, cfg config.TelemetryConfig) ShutdownFunc {
	if !cfg.Enabled {
		return noopShutdown
	}

	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		log.Printf("⚠️  Metrics exporter init failed: %v", err)
		return noopShutdown
	}

	period := cfg.ExportPeriod
	if period <= 0 {
		period = 10 * time.Second
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(period))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(newResource(cfg.ServiceName)))
	otel.SetMeterProvider(mp)
	log.Printf("✅ Metrics exporting to %s", cfg.Endpoint)
	return mp.Shutdown
}

// InitTracer installs a global tracer provider with a batching OTLP exporter
func InitTracer(ctx context.Context, cfg config.TelemetryConfig) ShutdownFunc {
	if !cfg.Enabled {
		return noopShutdown
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		log.Printf("⚠️  Trace exporter init failed: %v", err)
		return noopShutdown
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(newResource(cfg.ServiceName)),
	)
	otel.SetTracerProvider(tp)
	log.Printf("✅ Tracing exporting to %s", cfg.Endpoint)
	return tp.Shutdown
}

// WithSpan starts a span; the returned func ends it and records err when non-nil
func WithSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Flush runs shutdown with a bounded deadline
func Flush(ctx context.Context, shutdown ShutdownFunc) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Printf("⚠️  Telemetry flush failed: %v", err)
	}
}

// Instruments are the analysis-level metrics
type Instruments struct {
	Analyses         metric.Int64Counter
	AssessmentScore  metric.Int64Histogram
	ProviderLatency  metric.Float64Histogram
	ProviderFailures metric.Int64Counter
}

// NewInstruments resolves instruments from the current global meter provider.
// Call it after InitMetrics.
func NewInstruments() Instruments {
	meter := otel.Meter(instrumentationName)
	analyses, _ := meter.Int64Counter("listing_analyses_total")
	score, _ := meter.Int64Histogram("listing_risk_score")
	latency, _ := meter.Float64Histogram("listing_provider_latency_ms")
	failures, _ := meter.Int64Counter("listing_provider_failures_total")
	return Instruments{
		Analyses:         analyses,
		AssessmentScore:  score,
		ProviderLatency:  latency,
		ProviderFailures: failures,
	}
}

// RecordAnalysis counts one analysis by cache outcome and risk level
func (i Instruments) RecordAnalysis(ctx context.Context, fromCache bool, level string, score int) {
	attrs := metric.WithAttributes(
		attribute.Bool("from_cache", fromCache),
		attribute.String("level", level),
	)
	if i.Analyses != nil {
		i.Analyses.Add(ctx, 1, attrs)
	}
	if i.AssessmentScore != nil && !fromCache {
		i.AssessmentScore.Record(ctx, int64(score), attrs)
	}
}

// RecordProvider records one provider call
func (i Instruments) RecordProvider(ctx context.Context, provider string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	if i.ProviderLatency != nil {
		i.ProviderLatency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
	if err != nil && i.ProviderFailures != nil {
		i.ProviderFailures.Add(ctx, 1, attrs)
	}
}
