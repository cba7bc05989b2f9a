package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Span names
	SpanInsert  = "index.insert"
	SpanRemove  = "index.remove"
	SpanReprice = "index.reprice"
	SpanLoad    = "index.load"
	SpanPersist = "index.persist"
	SpanPublish = "index.publish"

	// Attribute keys
	AttributeBook       = "index.book"
	AttributeOperation  = "index.operation"
	AttributeOrderID    = "order.id"
	AttributePrice      = "order.price"
	AttributePrevPrice  = "order.prev_price"
	AttributeOrders     = "index.orders"
	AttributeLevels     = "index.levels"
	AttributeErrorClass = "error.class"
)

// StartSpan starts a span on the index tracer. Before Init it returns the
// span already in ctx, which is a no-op span when there is none.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := GetIndexTracer()
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddAttributes adds attributes to a span
func AddAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}

// RecordError marks the span failed
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
