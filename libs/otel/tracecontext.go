package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	headerTraceparent = "traceparent"
	headerTracestate  = "tracestate"
)

// TraceContext is the W3C trace context in its header form, small enough to
// persist next to a row written inside a traced request.
type TraceContext struct {
	Traceparent string
	Tracestate  string
}

func (tc TraceContext) IsZero() bool { return tc.Traceparent == "" }

// CaptureTraceContext returns the trace context of the span active in ctx,
// or the zero value when ctx carries no valid span.
func CaptureTraceContext(ctx context.Context) TraceContext {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return TraceContext{}
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Traceparent: carrier[headerTraceparent], Tracestate: carrier[headerTracestate]}
}

// Restore makes the captured span the remote parent of work done with the
// returned context.
func (tc TraceContext) Restore(ctx context.Context) context.Context {
	if tc.IsZero() {
		return ctx
	}
	carrier := propagation.MapCarrier{headerTraceparent: tc.Traceparent}
	if tc.Tracestate != "" {
		carrier[headerTracestate] = tc.Tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
