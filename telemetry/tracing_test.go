package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTracerFromProvider(tp, "test"), rec
}

func TestGetTracer_DefaultsToNoop(t *testing.T) {
	SetGlobalTracer(nil)
	_, span := GetTracer().StartSpan(context.Background(), "x")
	span.End()
	if span.SpanContext().IsValid() {
		t.Error("noop tracer should produce invalid span contexts")
	}
}

func TestTeardownSpans(t *testing.T) {
	tr, rec := newRecordingTracer(t)

	ctx, root := tr.StartTeardownSpan(context.Background(), "dunit.reference")
	_, child := tr.StartInvokeSpan(ctx, "dunit.reference", "vm-0")
	tr.EndInvokeSpan(child, InvokeSpanOptions{WorkerID: "vm-0", Index: 0}, errors.New("boom"))
	tr.EndTeardownSpan(root, 0, nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "invoke.dunit.reference" {
		t.Errorf("first span = %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("failed invocation should have error status")
	}
	if spans[0].Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Error("invoke span should be a child of the teardown span")
	}
	if spans[1].Status().Code != codes.Ok {
		t.Errorf("teardown status = %v, want Ok", spans[1].Status().Code)
	}
}

func TestInjectExtract(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tr, _ := newRecordingTracer(t)
	ctx, span := tr.StartSpan(context.Background(), "controller")
	defer span.End()

	carrier := Inject(ctx)
	if carrier["traceparent"] == "" {
		t.Fatalf("expected traceparent, got %v", carrier)
	}

	remote := Extract(context.Background(), carrier)
	_, workerSpan := tr.StartServeSpan(remote, "dunit.reference", "vm-1")
	defer workerSpan.End()
	if workerSpan.SpanContext().TraceID() != span.SpanContext().TraceID() {
		t.Error("worker span should join the controller trace")
	}
}

func TestExtract_EmptyCarrier(t *testing.T) {
	ctx := context.Background()
	if Extract(ctx, nil) != ctx {
		t.Error("empty carrier should return ctx unchanged")
	}
}

func TestProviderConfig_EnabledFromTracing(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if (ProviderConfig{}).Enabled() {
		t.Error("no endpoint should be disabled")
	}
	if !(ProviderConfig{Endpoint: "localhost:4317"}).Enabled() {
		t.Error("explicit endpoint should be enabled")
	}
	if _, err := InitProvider(context.Background(), ProviderConfig{}); err == nil {
		t.Error("InitProvider without endpoint should fail")
	}
}
