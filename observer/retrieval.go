package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/klinio/consilium"
)

// ObservedRetrieval wraps a consilium.RetrievalClient with OTEL
// instrumentation. The upstream label distinguishes the wrapped source in
// metrics and spans.
type ObservedRetrieval struct {
	inner    consilium.RetrievalClient
	inst     *Instruments
	upstream string
}

// WrapRetrieval returns an instrumented retrieval client.
func WrapRetrieval(inner consilium.RetrievalClient, upstream string, inst *Instruments) *ObservedRetrieval {
	return &ObservedRetrieval{inner: inner, inst: inst, upstream: upstream}
}

func (o *ObservedRetrieval) CallTool(ctx context.Context, name string, params map[string]string) (consilium.ToolResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.call", trace.WithAttributes(
		attribute.String("tool.upstream", o.upstream),
		attribute.String("tool.name", name),
	))
	defer span.End()
	start := time.Now()

	res, err := o.inner.CallTool(ctx, name, params)

	status := string(res.Status)
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String("tool.status", status),
		attribute.Int("tool.records", len(res.Records)),
	)
	o.inst.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool.upstream", o.upstream),
		attribute.String("tool.name", name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		attribute.String("tool.upstream", o.upstream),
		attribute.String("tool.name", name),
	))
	return res, err
}

func (o *ObservedRetrieval) HealthCheck(ctx context.Context) consilium.Health {
	return o.inner.HealthCheck(ctx)
}

func (o *ObservedRetrieval) Close() error {
	return o.inner.Close()
}

var _ consilium.RetrievalClient = (*ObservedRetrieval)(nil)
