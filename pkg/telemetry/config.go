package telemetry

import (
	"os"
	"strings"
)

const (
	defaultServiceName    = "flamegiraffe"
	defaultServiceVersion = "unknown"
	defaultProtocol       = "grpc"
)

// Environment variables read by LoadFromEnv. Apart from OTEL_ENABLED and
// OTEL_SERVICE_VERSION these are the standard OpenTelemetry SDK names.
const (
	envEnabled        = "OTEL_ENABLED"
	envServiceName    = "OTEL_SERVICE_NAME"
	envServiceVersion = "OTEL_SERVICE_VERSION"
	envEndpoint       = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envProtocol       = "OTEL_EXPORTER_OTLP_PROTOCOL"
	envHeaders        = "OTEL_EXPORTER_OTLP_HEADERS"
	envInsecure       = "OTEL_EXPORTER_OTLP_INSECURE"
	envSampler        = "OTEL_TRACES_SAMPLER"
	envSamplerArg     = "OTEL_TRACES_SAMPLER_ARG"
	envResourceAttrs  = "OTEL_RESOURCE_ATTRIBUTES"
)

// Config controls tracing. Tracing is off unless Enabled is set.
type Config struct {
	Enabled bool

	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP collector, with or without an http(s):// scheme.
	Endpoint string
	// Protocol is "grpc" or "http/protobuf".
	Protocol string
	// Headers go with every export, typically Authorization.
	Headers  map[string]string
	Insecure bool

	// Sampler takes the OTEL_TRACES_SAMPLER names; empty means always_on.
	Sampler    string
	SamplerArg string

	ResourceAttrs map[string]string
}

// LoadFromEnv builds a Config from the process environment.
func LoadFromEnv() *Config {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) *Config {
	or := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}
	isTrue := func(key string) bool { return strings.EqualFold(getenv(key), "true") }

	return &Config{
		Enabled:        isTrue(envEnabled),
		ServiceName:    or(envServiceName, defaultServiceName),
		ServiceVersion: or(envServiceVersion, defaultServiceVersion),
		Endpoint:       getenv(envEndpoint),
		Protocol:       or(envProtocol, defaultProtocol),
		Headers:        parseKeyValuePairs(getenv(envHeaders)),
		Insecure:       isTrue(envInsecure),
		Sampler:        getenv(envSampler),
		SamplerArg:     getenv(envSamplerArg),
		ResourceAttrs:  parseKeyValuePairs(getenv(envResourceAttrs)),
	}
}

// parseKeyValuePairs splits "k1=v1,k2=v2" into a map. Values may contain
// '='. Entries without '=' or without a key are dropped.
func parseKeyValuePairs(s string) map[string]string {
	pairs := make(map[string]string)
	for _, entry := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(entry, "=")
		if key = strings.TrimSpace(key); ok && key != "" {
			pairs[key] = strings.TrimSpace(value)
		}
	}
	return pairs
}
