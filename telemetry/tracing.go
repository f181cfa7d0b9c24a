// OpenTelemetry tracing for message sends, deliveries and receives.
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

// Tracer wraps OpenTelemetry tracing with transport-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include message content in span attributes
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
		return NoopTracer()
	}
	return globalTracer
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer backed by a specific provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// SetDebug enables or disables debug mode (content in spans).
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Send Spans ---

// SendSpanOptions describes a message passed to MTS.Send.
type SendSpanOptions struct {
	Performative   string
	Sender         string
	Receivers      []string
	ConversationID string
	Content        string // Only included if debug=true
}

// StartSendSpan starts the span covering one MTS.Send call.
func (t *Tracer) StartSendSpan(ctx context.Context, opts SendSpanOptions) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "mts.send", trace.WithSpanKind(trace.SpanKindProducer))

	attrs := []attribute.KeyValue{
		attribute.String("acl.performative", opts.Performative),
		attribute.StringSlice("acl.receivers", opts.Receivers),
	}
	if opts.Sender != "" {
		attrs = append(attrs, attribute.String("acl.sender", opts.Sender))
	}
	if opts.ConversationID != "" {
		attrs = append(attrs, attribute.String("acl.conversation_id", opts.ConversationID))
	}
	if t.debug && opts.Content != "" {
		attrs = append(attrs, attribute.String("acl.content", truncate(opts.Content, 4000)))
	}
	span.SetAttributes(attrs...)
	return ctx, span
}

// EndSendSpan ends a send span.
func (t *Tracer) EndSendSpan(span trace.Span, err error) {
	endSpan(span, err)
}

// --- Delivery Spans ---

// StartDeliverySpan starts a span for a single handler delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, scheme, address string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "mts.deliver."+scheme, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("mts.scheme", scheme),
		attribute.String("mts.address", address),
	)
	return ctx, span
}

// EndDeliverySpan ends a delivery span.
func (t *Tracer) EndDeliverySpan(span trace.Span, err error) {
	endSpan(span, err)
}

// --- Receive Spans ---

// StartReceiveSpan starts a span covering a blocking receive.
func (t *Tracer) StartReceiveSpan(ctx context.Context, agent string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "mts.receive", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("acl.agent", agent))
	return ctx, span
}

// EndReceiveSpan ends a receive span. performative is empty when nothing was
// received.
func (t *Tracer) EndReceiveSpan(span trace.Span, performative string, err error) {
	if performative != "" {
		span.SetAttributes(attribute.String("acl.performative", performative))
	}
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier is a simple map-based TextMapCarrier for context propagation.
type MapCarrier map[string]string

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

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
