// Package telemetry exposes OpenTelemetry tracing for teardown broadcasts.
//
// The controller opens one span per broadcast and one child span per target
// worker. Trace context rides along in the invocation envelope so spans
// recorded inside a worker join the controller's trace.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps an OpenTelemetry tracer with teardown-specific helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Teardown spans ---

// StartTeardownSpan starts the span covering one broadcast teardown.
func (t *Tracer) StartTeardownSpan(ctx context.Context, routine string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "teardown."+routine, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("dunit.routine", routine))
	return ctx, span
}

// EndTeardownSpan ends a teardown span, recording how many targets failed.
func (t *Tracer) EndTeardownSpan(span trace.Span, failed int, err error) {
	span.SetAttributes(attribute.Int("dunit.targets.failed", failed))
	end(span, err)
}

// InvokeSpanOptions describes one routine run on one target.
type InvokeSpanOptions struct {
	WorkerID   string
	Index      int
	Controller bool
	Capability string // set by the worker when it released a value
}

// StartInvokeSpan starts a span for a routine run on one target.
func (t *Tracer) StartInvokeSpan(ctx context.Context, routine, workerID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "invoke."+routine, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("dunit.routine", routine),
		attribute.String("dunit.worker.id", workerID),
	)
	return ctx, span
}

// StartServeSpan starts the worker-side span for an incoming invocation.
func (t *Tracer) StartServeSpan(ctx context.Context, routine, workerID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "serve."+routine, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("dunit.routine", routine),
		attribute.String("dunit.worker.id", workerID),
	)
	return ctx, span
}

// EndInvokeSpan ends an invocation span.
func (t *Tracer) EndInvokeSpan(span trace.Span, opts InvokeSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("dunit.worker.index", opts.Index),
		attribute.Bool("dunit.worker.controller", opts.Controller),
	)
	if opts.Capability != "" {
		span.SetAttributes(attribute.String("dunit.capability", opts.Capability))
	}
	end(span, err)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// Inject writes the trace context of ctx into a fresh map.
func Inject(ctx context.Context) map[string]string {
	carrier := MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}

// Extract returns ctx carrying the trace context found in m.
func Extract(ctx context.Context, m map[string]string) context.Context {
	if len(m) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, MapCarrier(m))
}

// MapCarrier is a map-based TextMapCarrier.
type MapCarrier map[string]string

var _ propagation.TextMapCarrier = MapCarrier(nil)

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
