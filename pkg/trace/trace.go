package trace

import (
	"context"

	"github.com/ServiceWeaver/weaver"

	"go.opentelemetry.io/otel/trace"
)

// SpanContext is a serializable copy of an otel span context. Queue messages
// embed it so consumers can continue the producer's trace.
type SpanContext struct {
	weaver.AutoMarshal
	TraceID    [16]byte `json:"trace_id"`
	SpanID     [8]byte  `json:"span_id"`
	TraceFlags byte     `json:"trace_flags"`
	TraceState string   `json:"trace_state"`
	Remote     bool     `json:"remote"`
}

// FromContext captures the span context of ctx for embedding in a message.
func FromContext(ctx context.Context) SpanContext {
	return Build(trace.SpanContextFromContext(ctx))
}

// ContinueContext restores a captured span context into ctx as a remote parent.
// An invalid or unparsable span context leaves ctx untouched.
func ContinueContext(ctx context.Context, sc SpanContext) context.Context {
	parsed, err := Parse(sc)
	if err != nil || !parsed.IsValid() {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, parsed)
}

func Build(sc trace.SpanContext) SpanContext {
	return SpanContext{
		TraceID:    sc.TraceID(),
		SpanID:     sc.SpanID(),
		TraceFlags: byte(sc.TraceFlags()),
		TraceState: sc.TraceState().String(),
		Remote:     sc.IsRemote(),
	}
}

func Parse(sc SpanContext) (trace.SpanContext, error) {
	traceState, err := trace.ParseTraceState(sc.TraceState)
	if err != nil {
		return trace.SpanContext{}, err
	}
	config := trace.SpanContextConfig{
		TraceID:    sc.TraceID,
		SpanID:     sc.SpanID,
		TraceFlags: trace.TraceFlags(sc.TraceFlags),
		TraceState: traceState,
		Remote:     sc.Remote,
	}
	return trace.NewSpanContext(config), nil
}
