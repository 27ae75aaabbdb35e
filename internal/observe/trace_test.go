package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs an in-memory tracer provider as the global one for
// the duration of the test. Tests using it must not run in parallel.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

var hexTraceID = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ── CorrelationID ──

func TestCorrelationID_NoSpan(t *testing.T) {
	t.Parallel()
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestCorrelationID_MatchesSpan(t *testing.T) {
	recordSpans(t)

	ctx, span := StartSpan(context.Background(), "agent.converse")
	defer span.End()

	cid := CorrelationID(ctx)
	if !hexTraceID.MatchString(cid) {
		t.Fatalf("CorrelationID = %q, want 32 hex chars", cid)
	}
	if cid != span.SpanContext().TraceID().String() {
		t.Errorf("CorrelationID %q differs from span trace ID", cid)
	}
}

func TestCorrelationID_ChildSharesParent(t *testing.T) {
	recordSpans(t)

	ctx, parent := StartSpan(context.Background(), "agent.converse")
	defer parent.End()
	child, span := StartToolSpan(ctx, "navigate", "automation")
	defer span.End()

	if CorrelationID(child) != CorrelationID(ctx) {
		t.Error("tool span started a new trace")
	}
}

// ── Tool spans ──

func TestStartToolSpan_NameAndAttributes(t *testing.T) {
	exp := recordSpans(t)

	_, span := StartToolSpan(context.Background(), "clickElement", "automation")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "tool.clickElement" {
		t.Errorf("name = %q", got.Name)
	}
	attrs := map[string]string{}
	for _, kv := range got.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs[string(AttrToolName)] != "clickElement" || attrs[string(AttrToolOrigin)] != "automation" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestFail_SetsErrorStatus(t *testing.T) {
	exp := recordSpans(t)

	_, a := StartSpan(context.Background(), "a")
	Fail(a, "selector not found")
	a.End()

	_, b := StartSpan(context.Background(), "b")
	FailErr(b, errors.New("stream reset"))
	b.End()

	_, c := StartSpan(context.Background(), "c")
	FailErr(c, nil)
	c.End()

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("recorded %d spans, want 3", len(spans))
	}
	if s := spans[0].Status; s.Code != codes.Error || s.Description != "selector not found" {
		t.Errorf("Fail status = %+v", s)
	}
	if s := spans[1].Status; s.Code != codes.Error || len(spans[1].Events) != 1 {
		t.Errorf("FailErr status = %+v, events = %d", s, len(spans[1].Events))
	}
	if s := spans[2].Status; s.Code != codes.Unset {
		t.Errorf("FailErr(nil) status = %+v", s)
	}
}

// ── Logger ──

func TestLogger_TagsSpan(t *testing.T) {
	recordSpans(t)
	buf := captureLogs(t)

	ctx, span := StartSpan(context.Background(), "hotctx.assemble")
	defer span.End()
	Logger(ctx).Info("assembled")

	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("trace_id="+CorrelationID(ctx))) {
		t.Errorf("missing trace_id: %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("span_id="+span.SpanContext().SpanID().String())) {
		t.Errorf("missing span_id: %s", out)
	}
}

func TestLogger_NoSpan(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("idle")
	if bytes.Contains(buf.Bytes(), []byte("trace_id")) {
		t.Errorf("unexpected trace_id: %s", buf.String())
	}
}
