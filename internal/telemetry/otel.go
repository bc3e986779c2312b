// Package telemetry wires OpenTelemetry tracing and metrics export. It is
// ambient infrastructure carried regardless of spec.md's admin/metrics
// Non-goals: the runtime's own hot paths (dispatch, qualification, outbound
// send) still emit spans and counters the way the rest of this codebase
// always has.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// Config holds OpenTelemetry related settings.
type Config struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
}

// Meters exposes the counters the runtime's hot paths publish to.
type Meters struct {
	DomainEventsTotal   metric.Int64Counter
	MessagesTotal       metric.Int64Counter
	LeadsCreatedTotal   metric.Int64Counter
	LeadsQualifiedTotal metric.Int64Counter
}

// Setup initializes tracing and metrics exporters when enabled, returning a
// shutdown func and a Meters handle (no-op instruments when disabled).
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, *Meters, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, noopMeters(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	meters, err := buildMeters(mp.Meter(cfg.ServiceName))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry instruments: %w", err)
	}

	shutdown := func(ctx context.Context) error {
		var first error
		if err := mp.Shutdown(ctx); err != nil {
			first = err
		}
		if err := tp.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
		return first
	}
	return shutdown, meters, nil
}

func buildMeters(m metric.Meter) (*Meters, error) {
	domainEvents, err := m.Int64Counter("centurion.domain_events_total")
	if err != nil {
		return nil, err
	}
	messages, err := m.Int64Counter("centurion.messages_total")
	if err != nil {
		return nil, err
	}
	leadsCreated, err := m.Int64Counter("centurion.leads_created_total")
	if err != nil {
		return nil, err
	}
	leadsQualified, err := m.Int64Counter("centurion.leads_qualified_total")
	if err != nil {
		return nil, err
	}
	return &Meters{
		DomainEventsTotal:   domainEvents,
		MessagesTotal:       messages,
		LeadsCreatedTotal:   leadsCreated,
		LeadsQualifiedTotal: leadsQualified,
	}, nil
}

func noopMeters() *Meters {
	m, _ := buildMeters(otel.GetMeterProvider().Meter("centurion-noop"))
	return m
}
