// Package observability provides tracing and RED (rate, errors, duration)
// metrics for treasury operations, exported over OTLP gRPC when enabled.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/kaizencorps/stache/pkg/custody"
)

const instrumentationName = "github.com/kaizencorps/stache"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint is a gRPC host:port, e.g. "localhost:4317".
	OTLPEndpoint string
	SampleRate   float64
	Insecure     bool
	Enabled      bool
}

// Provider owns the trace and metric pipelines.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	logger         *slog.Logger

	operations metric.Int64Counter
	errors     metric.Int64Counter
	duration   metric.Float64Histogram
}

// New builds a provider. When cfg.Enabled is false every instrument is a
// no-op and nothing is exported.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{
		config: cfg,
		logger: slog.Default().With("component", "observability"),
	}
	if !cfg.Enabled {
		p.tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
		if err := p.initMetrics(noop.NewMeterProvider().Meter(instrumentationName)); err != nil {
			return nil, err
		}
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	if err := p.initTracing(ctx, res); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	mp, err := newOTLPMeterProvider(ctx, cfg, res)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	p.meterProvider = mp
	otel.SetMeterProvider(mp)

	if err := p.initMetrics(mp.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion))); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
		"endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate,
	)
	return p, nil
}

// NewWithMeterProvider builds a provider that records into mp and does not
// trace. Used to collect metrics in-process.
func NewWithMeterProvider(mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{
		logger: slog.Default().With("component", "observability"),
		tracer: tracenoop.NewTracerProvider().Tracer(instrumentationName),
	}
	if err := p.initMetrics(mp.Meter(instrumentationName)); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initTracing(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	p.tracer = p.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(p.config.ServiceVersion))
	return nil
}

func newOTLPMeterProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	), nil
}

func (p *Provider) initMetrics(meter metric.Meter) error {
	var err error
	p.operations, err = meter.Int64Counter("stache.operations.total",
		metric.WithDescription("Treasury operations processed"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return fmt.Errorf("operations counter: %w", err)
	}
	p.errors, err = meter.Int64Counter("stache.errors.total",
		metric.WithDescription("Treasury operations that failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return fmt.Errorf("errors counter: %w", err)
	}
	p.duration, err = meter.Float64Histogram("stache.operation.duration",
		metric.WithDescription("Treasury operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5),
	)
	if err != nil {
		return fmt.Errorf("duration histogram: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutdown meter provider", "error", err)
		}
	}
	return nil
}

// Track starts a span for op and returns a function that records the
// outcome. Failed operations are labelled with their custody error kind.
func (p *Provider) Track(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append([]attribute.KeyValue{attribute.String("stache.operation", op)}, attrs...)

	ctx, span := p.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	return ctx, func(err error) {
		p.operations.Add(ctx, 1, metric.WithAttributes(attrs...))
		p.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		if err != nil {
			span.RecordError(err)
			errAttrs := append(attrs,
				attribute.String("error.kind", string(custody.KindOf(err))),
				attribute.String("error.code", custody.CodeOf(err)),
			)
			p.errors.Add(ctx, 1, metric.WithAttributes(errAttrs...))
		}
		span.End()
	}
}
