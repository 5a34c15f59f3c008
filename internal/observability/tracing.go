package observability

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

const (
	jaegerBatchSize    = 512
	jaegerBatchTimeout = 5 * time.Second
)

// jaegerEndpointEnv names the environment variable that, when set, turns
// tracing on. Its absence is the common case on a LAN daemon with no
// collector nearby, so InitTracing degrades to a no-op rather than failing.
const jaegerEndpointEnv = "OTEL_EXPORTER_JAEGER_ENDPOINT"

// InitTracing wires an OpenTelemetry tracer provider backed by a Jaeger
// collector named by OTEL_EXPORTER_JAEGER_ENDPOINT. If that variable is
// unset it installs nothing and returns a shutdown func that does nothing,
// so callers can defer the shutdown unconditionally either way.
func InitTracing(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	endpoint := os.Getenv(jaegerEndpointEnv)
	if endpoint == "" {
		return noopShutdown, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, fmt.Errorf("observability: jaeger exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("observability: tracer resource: %w", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter,
			trace.WithMaxExportBatchSize(jaegerBatchSize),
			trace.WithBatchTimeout(jaegerBatchTimeout)),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

func noopShutdown(context.Context) error { return nil }
