package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for application spans
const TracerName = "github.com/ordersync/backend"

// SpanOption configures StartSpan
type SpanOption func(*spanOptions)

type spanOptions struct {
	attributes []attribute.KeyValue
	kind       trace.SpanKind
}

// WithAttributes adds attributes at span start
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(o *spanOptions) {
		o.attributes = append(o.attributes, attrs...)
	}
}

// WithSpanKind sets the span kind, internal by default
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(o *spanOptions) {
		o.kind = kind
	}
}

// StartSpan starts a span on the global tracer provider. The caller ends it.
//
//	ctx, span := telemetry.StartSpan(ctx, "ordersync.sync", telemetry.WithAttributes(telemetry.AttrOrderID.String(id)))
//	defer span.End()
func StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, trace.Span) {
	o := &spanOptions{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(o)
	}

	startOpts := []trace.SpanStartOption{trace.WithSpanKind(o.kind)}
	if len(o.attributes) > 0 {
		startOpts = append(startOpts, trace.WithAttributes(o.attributes...))
	}
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name, startOpts...)
}

// StartJobSpan starts a consumer span for a queue job
func StartJobSpan(ctx context.Context, jobType, jobID string, attempt int) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("job.%s", jobType),
		WithSpanKind(trace.SpanKindConsumer),
		WithAttributes(
			AttrJobID.String(jobID),
			AttrJobType.String(jobType),
			AttrJobAttempt.Int(attempt),
		),
	)
}

// RecordError marks the span as failed. nil errors are ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span as successful
func SetOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

var (
	AttrOrderID    = attribute.Key("order.id")
	AttrTemplate   = attribute.Key("notification.template")
	AttrJobID      = attribute.Key("job.id")
	AttrJobType    = attribute.Key("job.type")
	AttrJobAttempt = attribute.Key("job.attempt")
)
