package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for audit operations.
	TracerName = "binaudit"
)

// Span attribute keys
const (
	AttrOrganizationID = "organization_id"
	AttrBatchID        = "batch_id"
	AttrTransactionID  = "transaction_id"
	AttrMaterial       = "material"
	AttrState          = "state"
	AttrCode           = "code"
	AttrSeverity       = "severity"
	AttrConfidence     = "confidence"
	AttrDurationMs     = "duration_ms"
	AttrInputTokens    = "input_tokens"
	AttrOutputTokens   = "output_tokens"
	AttrErrorType      = "error_type"
	AttrMissing        = "missing"
)

// Span names
const (
	SpanAuditBatch       = "binaudit.batch"
	SpanAuditTransaction = "binaudit.transaction"
	SpanAuditMaterial    = "binaudit.material"
	SpanJudgeCall        = "binaudit.judge_call"
)

// Tracer provides distributed tracing for audit operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new audit tracer on the global provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// NewTracerFromProvider creates a tracer on an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(TracerName),
	}
}

// StartBatchSpan starts a root span for one batch call.
func (t *Tracer) StartBatchSpan(ctx context.Context, organizationID, batchID string, transactions int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAuditBatch,
		trace.WithAttributes(
			attribute.String(AttrOrganizationID, organizationID),
			attribute.String(AttrBatchID, batchID),
			attribute.Int("transactions", transactions),
		),
	)
}

// StartTransactionSpan starts a span for one transaction.
func (t *Tracer) StartTransactionSpan(ctx context.Context, transactionID int64) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAuditTransaction,
		trace.WithAttributes(
			attribute.Int64(AttrTransactionID, transactionID),
		),
	)
}

// StartMaterialSpan starts a span for one material audit.
func (t *Tracer) StartMaterialSpan(ctx context.Context, material string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAuditMaterial,
		trace.WithAttributes(
			attribute.String(AttrMaterial, material),
		),
	)
}

// StartJudgeSpan starts a span for an external model call.
func (t *Tracer) StartJudgeSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanJudgeCall)
}

// SpanHelper provides convenient methods for working with the current span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetState records an orchestrator state transition as a span event.
func (h *SpanHelper) SetState(state string) {
	h.span.AddEvent("state", trace.WithAttributes(attribute.String(AttrState, state)))
}

// SetMissing records the materials missing at the completeness gate.
func (h *SpanHelper) SetMissing(missing []string) {
	h.span.SetAttributes(attribute.StringSlice(AttrMissing, missing))
}

// SetVerdict sets verdict attributes on the span.
func (h *SpanHelper) SetVerdict(code, severity string, confidence float64) {
	h.span.SetAttributes(
		attribute.String(AttrCode, code),
		attribute.String(AttrSeverity, severity),
		attribute.Float64(AttrConfidence, confidence),
	)
}

// SetJudgeResult sets model call attributes.
func (h *SpanHelper) SetJudgeResult(inputTokens, outputTokens int, latencyMs int64) {
	h.span.SetAttributes(
		attribute.Int(AttrInputTokens, inputTokens),
		attribute.Int(AttrOutputTokens, outputTokens),
		attribute.Int64(AttrDurationMs, latencyMs),
	)
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, errorType string) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(attribute.String(AttrErrorType, errorType))
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the context.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasSpanID() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}

// InjectTraceContext extracts trace context for propagation (e.g., to queue messages).
func InjectTraceContext(ctx context.Context) map[string]string {
	headers := make(map[string]string)
	if traceID := GetTraceID(ctx); traceID != "" {
		headers["trace_id"] = traceID
	}
	if spanID := GetSpanID(ctx); spanID != "" {
		headers["span_id"] = spanID
	}
	return headers
}
