package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "basegraph.app/chorus"

type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan starts a child of the span in ctx. The context's conversation,
// entity, task and slot fields become span attributes.
//
//	sc := logger.StartSpan(ctx, "brain.pass")
//	defer sc.End()
//	ctx = sc.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	opts = append(opts, trace.WithAttributes(spanAttrs(GetLogFields(ctx))...))
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &SpanContext{ctx: ctx, span: span}
}

// StartSpanFromTraceID continues a trace begun in another process: the server
// stamps its trace id on stream entries and the worker resumes it here. An
// empty or malformed id starts a new root span.
func StartSpanFromTraceID(ctx context.Context, traceID string, name string, opts ...trace.SpanStartOption) *SpanContext {
	if id, err := trace.TraceIDFromHex(traceID); err == nil {
		remote := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    id,
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: remote}))
	}
	return StartSpan(ctx, name, opts...)
}

func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

func (sc *SpanContext) End() {
	if sc.span != nil {
		sc.span.End()
	}
}

// RecordError records err and marks the span failed.
func (sc *SpanContext) RecordError(err error) {
	if sc.span == nil || err == nil {
		return
	}
	sc.span.RecordError(err)
	sc.span.SetStatus(codes.Error, err.Error())
}

func spanAttrs(f LogFields) []attribute.KeyValue {
	var out []attribute.KeyValue
	if f.ConversationID != nil {
		out = append(out, attribute.Int64("chorus.conversation_id", *f.ConversationID))
	}
	if f.EntityID != nil {
		out = append(out, attribute.Int64("chorus.entity_id", *f.EntityID))
	}
	if f.TaskID != nil {
		out = append(out, attribute.Int64("chorus.task_id", *f.TaskID))
	}
	if f.Slot != nil {
		out = append(out, attribute.String("chorus.slot", *f.Slot))
	}
	return out
}
