// Package observability wires the service's telemetry: a Prometheus-backed
// meter provider served from its own registry, an optional trace pipeline
// exporting to stdout or OTLP, and the instruments the admission pipeline
// and circuit breaker report into.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"admission/internal/models"
	"admission/internal/version"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// meterName scopes every instrument the service creates.
const meterName = "admission"

// Provider owns the telemetry pipelines started by Setup. The zero value
// and a nil *Provider are valid and report through no-op instruments.
type Provider struct {
	registry *promclient.Registry
	meters   *sdkmetric.MeterProvider
	tracer   *sdktrace.TracerProvider
}

// Setup starts the pipelines enabled in configuration and installs them as
// the global OpenTelemetry providers. The returned Provider must be shut
// down on exit.
func Setup(ctx context.Context, metrics models.MetricsConfig, obs models.ObservabilityConfig, ver version.Info) (*Provider, error) {
	res, err := newResource(ctx, obs.ServiceName, ver)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p := &Provider{}
	if obs.Tracing.Enabled {
		tp, err := newTracerProvider(ctx, res, obs.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to set up tracing: %w", err)
		}
		p.tracer = tp
		otel.SetTracerProvider(tp)
		// Proxied requests carry the trace context to the upstream.
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	if metrics.Enabled {
		if err := p.startMetrics(res); err != nil {
			p.Shutdown(ctx)
			return nil, fmt.Errorf("failed to set up metrics: %w", err)
		}
		otel.SetMeterProvider(p.meters)
	}

	return p, nil
}

// startMetrics creates a private registry holding the runtime collectors
// and the OpenTelemetry bridge.
func (p *Provider) startMetrics(res *resource.Resource) error {
	registry := promclient.NewRegistry()
	for _, c := range []promclient.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("failed to register runtime collector: %w", err)
		}
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	p.registry = registry
	p.meters = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	return nil
}

// Meter returns a named meter, or a no-op meter when metrics are disabled.
func (p *Provider) Meter(name string) metric.Meter {
	if p == nil || p.meters == nil {
		return noop.NewMeterProvider().Meter(name)
	}
	return p.meters.Meter(name)
}

// Instruments creates the admission and circuit instruments on the
// service meter.
func (p *Provider) Instruments() (*Instruments, error) {
	return NewInstruments(p.Meter(meterName))
}

// Handler serves the Prometheus exposition of the private registry. It is
// nil when metrics are disabled.
func (p *Provider) Handler() http.Handler {
	if p == nil || p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops every started pipeline.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}

	var errs []error
	if p.tracer != nil {
		if err := p.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.meters != nil {
		if err := p.meters.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("observability shutdown: %w", err)
	}
	return nil
}

func newResource(ctx context.Context, serviceName string, ver version.Info) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(ver.Version),
			semconv.ServiceInstanceID(ver.InstanceID),
			semconv.HostName(ver.Hostname),
			attribute.String("git.commit", ver.GitCommit),
			attribute.String("build.date", ver.BuildDate),
			attribute.String("deployment.environment", deploymentEnvironment()),
		),
	)
}

func newTracerProvider(ctx context.Context, res *resource.Resource, cfg models.TracingConfig) (*sdktrace.TracerProvider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s exporter: %w", cfg.Exporter, err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	), nil
}

// newSampler follows the caller's sampling decision when one is present
// and samples root spans at rate.
func newSampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// deploymentEnvironment reads ADMISSION_ENVIRONMENT, then ENVIRONMENT.
func deploymentEnvironment() string {
	for _, key := range []string{"ADMISSION_ENVIRONMENT", "ENVIRONMENT"} {
		if env := os.Getenv(key); env != "" {
			return env
		}
	}
	return "development"
}
