// Package observability provides event schemas, metrics, and tracing for the
// audit engine.
package observability

import (
	"time"

	"github.com/google/uuid"
)

// Event channels for Redis pub/sub
const (
	ChannelBatchCompleted = "events.audit.batch_completed"
	ChannelAuditFailed    = "events.audit.failed"
)

// BatchCompletedEvent is emitted after a batch response is assembled.
type BatchCompletedEvent struct {
	EventID               string    `json:"event_id"`
	OrganizationID        string    `json:"organization_id"`
	BatchID               string    `json:"batch_id"`
	TraceID               string    `json:"trace_id,omitempty"`
	TransactionIDs        []int64   `json:"transaction_ids"`
	Step1Passed           int       `json:"step_1_passed"`
	Step1Failed           int       `json:"step_1_failed"`
	Step2MaterialsAudited int       `json:"step_2_materials_audited"`
	Rejected              int       `json:"rejected"`
	SystemFailures        int       `json:"system_failures"`
	TotalTokens           int       `json:"total_tokens"`
	DurationMs            int64     `json:"duration_ms"`
	Timestamp             time.Time `json:"timestamp"`
}

// NewBatchCompletedEvent creates a batch event with a generated ID.
func NewBatchCompletedEvent(organizationID, batchID string, transactionIDs []int64) *BatchCompletedEvent {
	return &BatchCompletedEvent{
		EventID:        uuid.New().String(),
		OrganizationID: organizationID,
		BatchID:        batchID,
		TransactionIDs: transactionIDs,
		Timestamp:      time.Now(),
	}
}

// AuditFailedEvent is emitted when a queued audit request cannot be
// processed at all.
type AuditFailedEvent struct {
	EventID        string    `json:"event_id"`
	OrganizationID string    `json:"organization_id"`
	RequestID      string    `json:"request_id"`
	ErrorType      string    `json:"error_type"`
	ErrorMessage   string    `json:"error_message"`
	Attempts       int       `json:"attempts"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewAuditFailedEvent creates a failure event with a generated ID.
func NewAuditFailedEvent(organizationID, requestID, errorType, message string, attempts int) *AuditFailedEvent {
	return &AuditFailedEvent{
		EventID:        uuid.New().String(),
		OrganizationID: organizationID,
		RequestID:      requestID,
		ErrorType:      errorType,
		ErrorMessage:   message,
		Attempts:       attempts,
		Timestamp:      time.Now(),
	}
}
