// Package telemetry wires the OpenTelemetry SDK for the example: traces go
// to an OTLP collector over gRPC, metrics are exposed to Prometheus on the
// default mux.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/meridian-labs/sqltap-go/example/sqlx/internal/config"
)

// ShutdownFunc flushes and stops one telemetry pipeline.
type ShutdownFunc func(context.Context) error

// Setup installs the global tracer and meter providers and registers the
// /metrics handler. Both returned shutdown funcs must be called on exit.
func Setup(ctx context.Context) (traces, metrics ShutdownFunc, err error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traces, err = setupTracing(ctx, res)
	if err != nil {
		return nil, nil, err
	}
	metrics, err = setupMetrics(res)
	if err != nil {
		return nil, nil, err
	}
	return traces, metrics, nil
}

func setupTracing(ctx context.Context, res *resource.Resource) (ShutdownFunc, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(config.OTLPEndpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func setupMetrics(res *resource.Resource) (ShutdownFunc, error) {
	// The exporter registers itself with the default prometheus registry,
	// so promhttp.Handler serves everything, the sqltap collector included.
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	http.Handle("/metrics", promhttp.Handler())
	return mp.Shutdown, nil
}
