// Package tracing owns the process-wide OTel tracer used by the
// delivery, check and scheduler paths. Spans are exported over OTLP
// http; without an exporter endpoint every tracer is a no-op.
package tracing

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	mu       sync.Mutex
	started  bool
	provider *sdktrace.TracerProvider
	noopTP   = noop.NewTracerProvider()

	endpoint    string
	serviceName = "crewly"
)

// Configure records the exporter endpoint and service name. It must
// run before the first Tracer call; afterwards it is ignored. Leaving
// the endpoint empty falls back to OTEL_EXPORTER_OTLP_ENDPOINT.
func Configure(otlpEndpoint, service string) {
	mu.Lock()
	defer mu.Unlock()
	if started {
		return
	}
	endpoint = otlpEndpoint
	if service != "" {
		serviceName = service
	}
}

// Tracer returns a named tracer, starting the exporter on first use.
func Tracer(name string) trace.Tracer {
	return tracerProvider().Tracer(name)
}

func tracerProvider() trace.TracerProvider {
	mu.Lock()
	defer mu.Unlock()
	if !started {
		started = true
		provider = startExporter()
	}
	if provider == nil {
		return noopTP
	}
	return provider
}

// startExporter returns nil when no endpoint is configured or the
// exporter cannot be built; callers treat nil as "stay no-op".
func startExporter() *sdktrace.TracerProvider {
	target := endpoint
	if target == "" {
		target = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if target == "" {
		return nil
	}

	ctx := context.Background()
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(stripScheme(target)),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp
}

// stripScheme drops http(s):// since otlptracehttp wants host:port.
func stripScheme(s string) string {
	if rest, ok := strings.CutPrefix(s, "https://"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(s, "http://"); ok {
		return rest
	}
	return s
}

// Shutdown flushes pending spans. Safe when tracing never started.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	mu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
