package observability

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
var (
	AttrFunctionName = attribute.Key("cloudcode.function.name")
	AttrRequestID    = attribute.Key("cloudcode.request_id")
	AttrJobName      = attribute.Key("cloudcode.job.name")
	AttrJobRunID     = attribute.Key("cloudcode.job.run_id")
	AttrRecordID     = attribute.Key("cloudcode.record.id")
	AttrProcessed    = attribute.Key("cloudcode.job.processed")
	AttrUpstreamHost = attribute.Key("cloudcode.upstream.host")
)

func start(ctx context.Context, kind trace.SpanKind, name string, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// StartSpan starts an internal span, e.g. one job record.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, trace.SpanKindInternal, name, attrs)
}

// StartServerSpan starts a span for an inbound HTTP or gRPC request.
func StartServerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, trace.SpanKindServer, name, attrs)
}

// StartClientSpan starts a span for an upstream call.
func StartClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, trace.SpanKindClient, name, attrs)
}

func SpanFromContext(ctx context.Context) trace.Span { return trace.SpanFromContext(ctx) }

func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetSpanOK(span trace.Span) { span.SetStatus(codes.Ok, "") }

// InjectHTTPHeaders writes the W3C trace context of ctx into h. It does
// nothing while tracing is disabled.
func InjectHTTPHeaders(ctx context.Context, h http.Header) {
	if Enabled() {
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
	}
}

// ExtractHTTPHeaders returns ctx carrying the remote span context in h.
func ExtractHTTPHeaders(ctx context.Context, h http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(h))
}

// GetTraceID is the hex trace ID of the span in ctx, or "".
func GetTraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// GetSpanID is the hex span ID of the span in ctx, or "".
func GetSpanID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}
