package observer

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/klinio/consilium"
)

// ObservedChat wraps a consilium.ChatClient with OTEL instrumentation.
type ObservedChat struct {
	inner consilium.ChatClient
	inst  *Instruments
	model string
}

// WrapChat returns an instrumented chat client that emits traces and metrics.
func WrapChat(inner consilium.ChatClient, model string, inst *Instruments) *ObservedChat {
	return &ObservedChat{inner: inner, inst: inst, model: model}
}

func (o *ObservedChat) Name() string { return o.inner.Name() }

func (o *ObservedChat) Classify(ctx context.Context, prompt string) (json.RawMessage, error) {
	ctx, span := o.start(ctx, "llm.classify")
	defer span.End()
	start := time.Now()

	raw, err := o.inner.Classify(ctx, prompt)
	o.record(ctx, span, "classify", start, err)
	return raw, err
}

func (o *ObservedChat) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := o.start(ctx, "llm.generate")
	defer span.End()
	start := time.Now()

	text, err := o.inner.Generate(ctx, prompt)
	o.record(ctx, span, "generate", start, err)
	return text, err
}

func (o *ObservedChat) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return o.inst.Tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("llm.model", o.model),
		attribute.String("llm.provider", o.inner.Name()),
	))
}

func (o *ObservedChat) record(ctx context.Context, span trace.Span, method string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("llm.model", o.model),
		attribute.String("llm.method", method),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		attribute.String("llm.model", o.model),
		attribute.String("llm.method", method),
	))
}

var _ consilium.ChatClient = (*ObservedChat)(nil)
