package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AuditMetrics holds all Prometheus metrics for the audit engine.
type AuditMetrics struct {
	// Batch metrics
	BatchesTotal        *prometheus.CounterVec
	BatchSeconds        *prometheus.HistogramVec
	TransactionsTotal   *prometheus.CounterVec
	CompletenessMissing *prometheus.CounterVec

	// Per-material metrics
	VerdictsTotal       *prometheus.CounterVec
	MaterialSeconds     *prometheus.HistogramVec
	VerdictConfidence   *prometheus.HistogramVec
	SystemFailuresTotal *prometheus.CounterVec

	// Model metrics
	JudgeCallsTotal     *prometheus.CounterVec
	JudgeLatencySeconds *prometheus.HistogramVec
	JudgeTokensTotal    *prometheus.CounterVec

	// Pattern metrics
	MessagesRenderedTotal *prometheus.CounterVec
	PatternsSkippedTotal  *prometheus.CounterVec

	// Queue metrics
	QueueItemsTotal *prometheus.CounterVec
	DLQItemsTotal   *prometheus.CounterVec
}

// NewAuditMetrics creates a new set of audit metrics.
func NewAuditMetrics(reg prometheus.Registerer) *AuditMetrics {
	factory := promauto.With(reg)

	return &AuditMetrics{
		// Batch metrics
		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binaudit_batches_total",
				Help: "Total audit batches by outcome",
			},
			[]string{"organization_id", "status"},
		),
		BatchSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "binaudit_batch_seconds",
				Help:    "Wall time to audit a batch",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"organization_id"},
		),
		TransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binaudit_transactions_total",
				Help: "Transactions by completeness outcome",
			},
			[]string{"organization_id", "completeness"},
		),
		CompletenessMissing: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binaudit_completeness_missing_total",
				Help: "Mandatory materials missing at the completeness gate",
			},
			[]string{"organization_id", "material"},
		),

		// Per-material metrics
		VerdictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binaudit_verdicts_total",
				Help: "Resolved verdicts by material, code and status",
			},
			[]string{"organization_id", "material", "code", "status"},
		),
		MaterialSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "binaudit_material_seconds",
				Help:    "Time to audit one material including the model call",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"organization_id", "material"},
		),
		VerdictConfidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "binaudit_verdict_confidence",
				Help:    "Confidence of resolved verdicts",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
			},
			[]string{"material", "code"},
		),
		SystemFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binaudit_system_failures_total",
				Help: "Materials that ended in a parse or image error",
			},
			[]string{"organization_id", "material", "error_type"},
		),

		// Model metrics
		JudgeCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binaudit_judge_calls_total",
				Help: "External model calls by status",
			},
			[]string{"organization_id", "status"},
		),
		JudgeLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "binaudit_judge_latency_seconds",
				Help:    "External model call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
			},
			[]string{"organization_id"},
		),
		JudgeTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binaudit_judge_tokens_total",
				Help: "Total tokens consumed by the external model",
			},
			[]string{"direction", "organization_id"},
		),

		// Pattern metrics
		MessagesRenderedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binaudit_messages_rendered_total",
				Help: "Rendered response messages by source",
			},
			[]string{"organization_id", "source"},
		),
		PatternsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binaudit_patterns_skipped_total",
				Help: "Response patterns rejected at load time",
			},
			[]string{"organization_id"},
		),

		// Queue metrics
		QueueItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binaudit_queue_items_total",
				Help: "Audit requests entering or leaving the queue",
			},
			[]string{"queue", "action"},
		),
		DLQItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binaudit_dlq_items_total",
				Help: "Audit requests moved to the dead letter queue",
			},
			[]string{"queue"},
		),
	}
}

// RecordBatch records a finished batch.
func (m *AuditMetrics) RecordBatch(organizationID, status string, seconds float64) {
	m.BatchesTotal.WithLabelValues(organizationID, status).Inc()
	m.BatchSeconds.WithLabelValues(organizationID).Observe(seconds)
}

// RecordTransaction records a transaction's completeness outcome and the
// materials it was missing.
func (m *AuditMetrics) RecordTransaction(organizationID, completeness string, missing []string) {
	m.TransactionsTotal.WithLabelValues(organizationID, completeness).Inc()
	for _, material := range missing {
		m.CompletenessMissing.WithLabelValues(organizationID, material).Inc()
	}
}

// RecordVerdict records one resolved material verdict.
func (m *AuditMetrics) RecordVerdict(organizationID, material, code, status string, confidence, seconds float64) {
	m.VerdictsTotal.WithLabelValues(organizationID, material, code, status).Inc()
	m.VerdictConfidence.WithLabelValues(material, code).Observe(confidence)
	m.MaterialSeconds.WithLabelValues(organizationID, material).Observe(seconds)
}

// RecordSystemFailure records a material that ended in pe or ie.
func (m *AuditMetrics) RecordSystemFailure(organizationID, material, errorType string) {
	m.SystemFailuresTotal.WithLabelValues(organizationID, material, errorType).Inc()
}

// RecordJudgeCall records an external model call.
func (m *AuditMetrics) RecordJudgeCall(organizationID, status string, latencySeconds float64, inputTokens, outputTokens int) {
	m.JudgeCallsTotal.WithLabelValues(organizationID, status).Inc()
	m.JudgeLatencySeconds.WithLabelValues(organizationID).Observe(latencySeconds)
	m.JudgeTokensTotal.WithLabelValues("input", organizationID).Add(float64(inputTokens))
	m.JudgeTokensTotal.WithLabelValues("output", organizationID).Add(float64(outputTokens))
}

// RecordMessage records a rendered message; source is "pattern" or "default".
func (m *AuditMetrics) RecordMessage(organizationID, source string) {
	m.MessagesRenderedTotal.WithLabelValues(organizationID, source).Inc()
}

// RecordPatternsSkipped records patterns rejected while building a set.
func (m *AuditMetrics) RecordPatternsSkipped(organizationID string, count int) {
	if count > 0 {
		m.PatternsSkippedTotal.WithLabelValues(organizationID).Add(float64(count))
	}
}

// RecordQueue records a queue action (enqueue, ack, nack).
func (m *AuditMetrics) RecordQueue(queue, action string) {
	m.QueueItemsTotal.WithLabelValues(queue, action).Inc()
}

// RecordDLQItem records a request moved to the dead letter queue.
func (m *AuditMetrics) RecordDLQItem(queue string) {
	m.DLQItemsTotal.WithLabelValues(queue).Inc()
}
