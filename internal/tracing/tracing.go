// Package tracing installs the OpenTelemetry tracer provider used by the
// node containers.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// Config describes where spans are exported.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is host:port of an OTLP HTTP collector; the exporter adds
	// the path.
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// DefaultConfig samples everything and exports over plain HTTP.
func DefaultConfig(endpoint string) Config {
	return Config{
		ServiceName:    "daedalus",
		ServiceVersion: "1.0.0",
		Endpoint:       endpoint,
		Insecure:       true,
		SampleRatio:    1.0,
	}
}

// Setup installs a global tracer provider and returns its shutdown func.
// Without an endpoint the global no-op provider stays in place.
func Setup(ctx context.Context, config Config, logger *zap.Logger) (func(context.Context) error, error) {
	if config.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	logger.Info("setting up tracing",
		zap.String("service", config.ServiceName),
		zap.String("endpoint", config.Endpoint))

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

// Shutdown flushes pending spans within ten seconds.
func Shutdown(shutdown func(context.Context) error, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracing", zap.Error(err))
		return err
	}
	return nil
}
