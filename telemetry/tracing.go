// OpenTelemetry tracing support for bus and tracker observability.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with bus-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include payload keys in span attributes
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

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// SetDebug enables or disables debug mode (payload keys in spans).
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

// --- Publish Spans ---

// PublishSpanOptions contains options for dispatch spans.
type PublishSpanOptions struct {
	Topic     string
	Kind      string
	From      string
	To        string
	Priority  int
	Delivered int
	Dropped   int
}

// StartPublishSpan starts a span for a publish/dispatch operation.
func (t *Tracer) StartPublishSpan(ctx context.Context, topic string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "bus.publish."+topic, trace.WithSpanKind(trace.SpanKindProducer))
}

// EndPublishSpan ends a publish span with attributes.
func (t *Tracer) EndPublishSpan(span trace.Span, opts PublishSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("bus.topic", opts.Topic),
		attribute.String("bus.kind", opts.Kind),
		attribute.String("bus.from", opts.From),
		attribute.Int("bus.priority", opts.Priority),
		attribute.Int("bus.delivered", opts.Delivered),
		attribute.Int("bus.dropped", opts.Dropped),
	}
	if opts.To != "" {
		attrs = append(attrs, attribute.String("bus.to", opts.To))
	}

	span.SetAttributes(attrs...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Coordination Spans ---

// CoordinationSpanOptions contains options for coordination task spans.
type CoordinationSpanOptions struct {
	TaskID       string
	Action       string
	Participants int
	Results      int
	Status       string
}

// StartCoordinationSpan starts a span covering a coordination task's lifetime.
func (t *Tracer) StartCoordinationSpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "coordination.task", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("coordination.task_id", taskID))
	return ctx, span
}

// EndCoordinationSpan ends a coordination span with attributes.
func (t *Tracer) EndCoordinationSpan(span trace.Span, opts CoordinationSpanOptions, err error) {
	span.SetAttributes(
		attribute.String("coordination.task_id", opts.TaskID),
		attribute.String("coordination.action", opts.Action),
		attribute.Int("coordination.participants", opts.Participants),
		attribute.Int("coordination.results", opts.Results),
		attribute.String("coordination.status", opts.Status),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Workflow Spans ---

// WorkflowSpanOptions contains options for workflow step spans.
type WorkflowSpanOptions struct {
	WorkflowID string
	Step       string
	Agent      string
	Status     string
	Duration   time.Duration
}

// StartWorkflowSpan starts a span for a workflow step.
func (t *Tracer) StartWorkflowSpan(ctx context.Context, workflowID, step string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "workflow."+step, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("workflow.step", step),
	)
	return ctx, span
}

// EndWorkflowSpan ends a workflow step span with attributes.
func (t *Tracer) EndWorkflowSpan(span trace.Span, opts WorkflowSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("workflow.id", opts.WorkflowID),
		attribute.String("workflow.step", opts.Step),
		attribute.String("workflow.status", opts.Status),
	}
	if opts.Agent != "" {
		attrs = append(attrs, attribute.String("workflow.agent", opts.Agent))
	}
	if opts.Duration > 0 {
		attrs = append(attrs, attribute.Int64("workflow.duration_ms", opts.Duration.Milliseconds()))
	}

	span.SetAttributes(attrs...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for propagation
// through message payloads.
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
