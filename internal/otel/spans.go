package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for Taskhold spans.
var (
	AttrTaskID   = attribute.Key("taskhold.task.id")
	AttrOp       = attribute.Key("taskhold.op")
	AttrOpKind   = attribute.Key("taskhold.op.kind")
	AttrPriority = attribute.Key("taskhold.op.priority")
	AttrVersion  = attribute.Key("taskhold.task.version")
	AttrStrategy = attribute.Key("taskhold.sync.strategy")
	AttrMode     = attribute.Key("taskhold.search.mode")
	AttrActor    = attribute.Key("taskhold.actor")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
