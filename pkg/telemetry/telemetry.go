// Package telemetry wires OpenTelemetry tracing for flamegiraffe.
//
// Tracing is off unless OTEL_ENABLED=true. Configuration follows the standard
// OTEL_* environment variables:
//
//	OTEL_ENABLED                    - Enable/disable tracing (default: false)
//	OTEL_SERVICE_NAME               - Service name (default: flamegiraffe)
//	OTEL_SERVICE_VERSION            - Service version (default: build version)
//	OTEL_EXPORTER_OTLP_ENDPOINT     - OTLP collector endpoint
//	OTEL_EXPORTER_OTLP_PROTOCOL     - Protocol: grpc or http/protobuf (default: grpc)
//	OTEL_EXPORTER_OTLP_HEADERS      - Headers for authentication (e.g., Authorization=Bearer xxx)
//	OTEL_EXPORTER_OTLP_INSECURE     - Use insecure connection (default: false)
//	OTEL_TRACES_SAMPLER             - Sampler type (default: always_on)
//	OTEL_TRACES_SAMPLER_ARG         - Sampler argument (e.g., ratio)
//	OTEL_RESOURCE_ATTRIBUTES        - Additional resource attributes
//
// Packages obtain their tracer with Tracer("service"), which resolves through
// the global provider, so spans are no-ops until Init installs a real one.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationPrefix prefixes every tracer name handed out by Tracer.
const InstrumentationPrefix = "github.com/flamegiraffe/"

// ShutdownFunc flushes and stops the TracerProvider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(_ context.Context) error {
	return nil
}

// Option adjusts the configuration read from the environment.
type Option func(*Config)

// WithServiceVersion sets the version reported when OTEL_SERVICE_VERSION is unset.
func WithServiceVersion(version string) Option {
	return func(c *Config) {
		if c.ServiceVersion == defaultServiceVersion && version != "" {
			c.ServiceVersion = version
		}
	}
}

// WithConfig replaces the environment configuration entirely.
func WithConfig(cfg *Config) Option {
	return func(c *Config) {
		*c = *cfg
	}
}

// Init installs a global TracerProvider and propagator. When tracing is
// disabled it leaves the default no-op provider in place and returns a
// no-op shutdown.
func Init(ctx context.Context, opts ...Option) (ShutdownFunc, error) {
	cfg := LoadFromEnv()
	for _, opt := range opts {
		opt(cfg)
	}

	if !cfg.Enabled {
		return noopShutdown, nil
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(createSampler(cfg)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Tracer returns the named component's tracer from the global provider.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(InstrumentationPrefix + component)
}
