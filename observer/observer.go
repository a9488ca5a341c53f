// Package observer provides OTEL-based observability for the consultation
// pipeline.
//
// It wraps ChatClient and RetrievalClient with instrumented versions that
// emit traces and metrics via OpenTelemetry, and provides a consilium.Tracer
// so gateway, dispatcher, and synthesizer spans land in the same trace.
// Users export to any OTEL-compatible backend by setting standard OTEL env
// vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/klinio/consilium/observer"

// Instruments holds all OTEL instruments used by the observer wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// Counters
	Consults    metric.Int64Counter
	CacheHits   metric.Int64Counter
	LLMRequests metric.Int64Counter
	ToolCalls   metric.Int64Counter

	// Histograms
	ConsultDuration metric.Float64Histogram
	LLMDuration     metric.Float64Histogram
	ToolDuration    metric.Float64Histogram
}

// Init sets up OTEL trace and metric providers with OTLP HTTP exporters.
// Endpoint configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Returns a shutdown function that
// must be called on application exit.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	meter := otel.Meter(scopeName)

	consults, err := meter.Int64Counter("consult.requests",
		metric.WithDescription("Consultation request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter("consult.cache_hits",
		metric.WithDescription("Quick-mode cache hit count"),
		metric.WithUnit("{hit}"))
	if err != nil {
		return nil, err
	}

	llmRequests, err := meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	toolCalls, err := meter.Int64Counter("tool.calls",
		metric.WithDescription("Upstream tool call count"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}

	consultDuration, err := meter.Float64Histogram("consult.duration",
		metric.WithDescription("Consultation duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	llmDuration, err := meter.Float64Histogram("llm.duration",
		metric.WithDescription("LLM call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram("tool.duration",
		metric.WithDescription("Upstream tool call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:          otel.Tracer(scopeName),
		Meter:           meter,
		Consults:        consults,
		CacheHits:       cacheHits,
		LLMRequests:     llmRequests,
		ToolCalls:       toolCalls,
		ConsultDuration: consultDuration,
		LLMDuration:     llmDuration,
		ToolDuration:    toolDuration,
	}, nil
}
