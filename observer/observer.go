// Package observer provides OTEL-based observability for turn execution.
//
// NewTracer returns an overture.Tracer backed by the global OTEL
// TracerProvider; Init configures global providers from caller-supplied
// exporters so any OTEL-compatible backend can receive the data.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"go.opentelemetry.io/otel/metric"

	"github.com/nvoss/overture"
)

const scopeName = "github.com/nvoss/overture/observer"

// InitOption configures Init.
type InitOption func(*initConfig)

type initConfig struct {
	serviceName string
	spanExp     sdktrace.SpanExporter
	reader      sdkmetric.Reader
}

// WithServiceName sets the OTEL service.name resource attribute.
func WithServiceName(name string) InitOption {
	return func(c *initConfig) {
		if name != "" {
			c.serviceName = name
		}
	}
}

// WithSpanExporter installs a span exporter (OTLP, stdout, ...).
func WithSpanExporter(exp sdktrace.SpanExporter) InitOption {
	return func(c *initConfig) { c.spanExp = exp }
}

// WithMetricReader installs a metric reader.
func WithMetricReader(r sdkmetric.Reader) InitOption {
	return func(c *initConfig) { c.reader = r }
}

// Init sets up global OTEL trace and metric providers. Exporters come from
// the caller; with none configured, spans and metrics stay in-process.
// Returns a shutdown function that must be called on application exit.
func Init(ctx context.Context, opts ...InitOption) (func(context.Context) error, error) {
	cfg := initConfig{serviceName: "overture"}
	for _, o := range opts {
		o(&cfg)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, err
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.spanExp != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.spanExp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.reader != nil {
		mpOpts = append(mpOpts, sdkmetric.WithReader(cfg.reader))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return shutdown, nil
}

// TurnMetrics aggregates per-turn counters and histograms.
type TurnMetrics struct {
	tokenUsage metric.Int64Counter
	costTotal  metric.Float64Counter
	turns      metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewTurnMetrics creates instruments on the global meter provider.
func NewTurnMetrics() (*TurnMetrics, error) {
	meter := otel.Meter(scopeName)
	m := &TurnMetrics{}
	var err error
	if m.tokenUsage, err = meter.Int64Counter("overture.tokens",
		metric.WithDescription("Tokens consumed per turn"), metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if m.costTotal, err = meter.Float64Counter("overture.cost",
		metric.WithDescription("Estimated turn cost"), metric.WithUnit("USD")); err != nil {
		return nil, err
	}
	if m.turns, err = meter.Int64Counter("overture.turns",
		metric.WithDescription("Completed turns by finish reason")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("overture.turn.duration",
		metric.WithDescription("Turn wall time"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordTurn reports one completed turn.
func (m *TurnMetrics) RecordTurn(ctx context.Context, vendor, model string, reason overture.FinishReason, usage overture.Usage, cost, durationMS float64) {
	attrs := metric.WithAttributes(
		attrVendor.String(vendor),
		attrModel.String(model),
		attrFinishReason.String(string(reason)),
	)
	m.tokenUsage.Add(ctx, int64(usage.Total()), attrs)
	m.costTotal.Add(ctx, cost, attrs)
	m.turns.Add(ctx, 1, attrs)
	m.duration.Record(ctx, durationMS, attrs)
}
