// Package telemetry installs the OpenTelemetry tracer provider that the
// storage and ranking spans are recorded on.
package telemetry

import (
	"context"
	"fmt"

	"github.com/hyperjump/shiori/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Telemetry owns the tracer provider. A disabled or degraded instance hands
// out a no-op provider, so callers never check.
type Telemetry struct {
	cfg      config.TelemetryConfig
	provider *sdktrace.TracerProvider
	logger   *zap.Logger
}

type options struct {
	logger   *zap.Logger
	exporter sdktrace.SpanExporter
	version  string
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger for export setup failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSpanExporter replaces the OTLP exporter, e.g. with an in-memory one in tests.
func WithSpanExporter(e sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = e }
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// New builds the tracer provider described by cfg and installs it as the
// global provider. Exporter setup failures are logged and leave tracing off.
func New(ctx context.Context, cfg config.TelemetryConfig, opts ...Option) *Telemetry {
	o := options{logger: zap.NewNop(), version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}
	t := &Telemetry{cfg: cfg, logger: o.logger}
	if !cfg.Enabled {
		return t
	}

	exporter := o.exporter
	if exporter == nil {
		var err error
		exporter, err = newExporter(ctx, cfg)
		if err != nil {
			o.logger.Warn("tracing disabled", zap.String("exporter", cfg.Exporter), zap.Error(err))
			return t
		}
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(o.version),
	)
	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	o.logger.Info("tracing enabled",
		zap.String("exporter", cfg.Exporter),
		zap.String("endpoint", cfg.Endpoint))
	return t
}

func newExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp-http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	case "otlp", "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported exporter %q", cfg.Exporter)
	}
}

// sampler keeps the parent's decision and samples roots at rate.
func sampler(rate *float64) sdktrace.Sampler {
	r := 1.0
	if rate != nil {
		r = *rate
	}
	var root sdktrace.Sampler
	switch {
	case r >= 1:
		root = sdktrace.AlwaysSample()
	case r <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(r)
	}
	return sdktrace.ParentBased(root)
}

// Enabled reports whether spans are being exported.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.provider != nil
}

// TracerProvider returns the provider components should record on.
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	if !t.Enabled() {
		return noop.NewTracerProvider()
	}
	return t.provider
}

// ForceFlush exports every finished span now.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}
	return t.provider.ForceFlush(ctx)
}

// Shutdown flushes pending spans and stops the exporter. It waits at most
// the configured shutdown timeout when ctx has no deadline.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("trace provider shutdown: %w", err)
	}
	return nil
}
