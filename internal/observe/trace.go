package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for every PagePilot span.
const tracerName = "github.com/MrWong99/pagepilot"

// Span attribute keys shared by the agent, the tool registry and the
// challenge solver.
const (
	AttrToolName    = attribute.Key("pagepilot.tool.name")
	AttrToolOrigin  = attribute.Key("pagepilot.tool.origin")
	AttrTurnStep    = attribute.Key("pagepilot.turn.step")
	AttrTurnOutcome = attribute.Key("pagepilot.turn.outcome")
	AttrBackend     = attribute.Key("pagepilot.backend")
)

// Tracer returns the PagePilot tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartToolSpan starts the span wrapping one tool execution. Its name is
// "tool.<name>" so traces group by tool.
func StartToolSpan(ctx context.Context, name, origin string) (context.Context, trace.Span) {
	return StartSpan(ctx, "tool."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrToolName.String(name), AttrToolOrigin.String(origin)),
	)
}

// Fail marks span as failed with msg. An empty msg is allowed.
func Fail(span trace.Span, msg string) {
	span.SetStatus(codes.Error, msg)
}

// FailErr records err on span and marks it failed. A nil err is a no-op.
func FailErr(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID is the hex trace ID of the span in ctx, or "" without one.
// HTTP responses carry it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger tagged with the trace_id and span_id of
// the span in ctx. Without a span it is slog.Default() unchanged.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
