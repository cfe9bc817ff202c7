// Package queues provides the Redis-backed queue that carries audit
// requests to workers.
package queues

import (
	"context"
	"encoding/json"
	"time"

	"github.com/otherjamesbrown/binaudit/pkg/batch"
)

// Priority levels for queue messages.
type Priority int

const (
	PriorityLow    Priority = 0 // Re-audits
	PriorityNormal Priority = 1 // Scheduled batches
	PriorityHigh   Priority = 2 // Interactive callers
)

// MessageType identifies the type of queue message.
type MessageType string

const (
	MessageTypeAudit MessageType = "audit"
)

// DefaultQueueName is the queue audit requests are sent to.
const DefaultQueueName = "audit:requests"

// Message is the interface for all queue messages.
type Message interface {
	GetRequestID() string
	GetOrganizationID() string
	GetPriority() Priority
	GetMessageType() MessageType
	GetBatchID() string
}

// AuditRequestMessage asks a worker to run one batch audit.
type AuditRequestMessage struct {
	RequestID   string        `json:"request_id"`
	Priority    Priority      `json:"priority"`
	SubmittedAt time.Time     `json:"submitted_at"`
	Request     batch.Request `json:"request"`
}

// NewAuditRequestMessage wraps req for queueing.
func NewAuditRequestMessage(requestID string, req batch.Request, priority Priority) *AuditRequestMessage {
	return &AuditRequestMessage{
		RequestID:   requestID,
		Priority:    priority,
		SubmittedAt: time.Now().UTC(),
		Request:     req,
	}
}

func (m *AuditRequestMessage) GetRequestID() string        { return m.RequestID }
func (m *AuditRequestMessage) GetOrganizationID() string   { return m.Request.OrganizationID }
func (m *AuditRequestMessage) GetPriority() Priority       { return m.Priority }
func (m *AuditRequestMessage) GetMessageType() MessageType { return MessageTypeAudit }
func (m *AuditRequestMessage) GetBatchID() string          { return m.Request.BatchID }

// QueuedMessage wraps a message with queue metadata.
type QueuedMessage struct {
	ID           string          `json:"id"`
	Message      json.RawMessage `json:"message"`
	MessageType  MessageType     `json:"message_type"`
	Priority     Priority        `json:"priority"`
	RetryCount   int             `json:"retry_count"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAfter time.Time       `json:"visible_after,omitempty"`
}

// ParseMessage parses the raw message based on message type.
func (qm *QueuedMessage) ParseMessage() (Message, error) {
	switch qm.MessageType {
	case MessageTypeAudit:
		var msg AuditRequestMessage
		if err := json.Unmarshal(qm.Message, &msg); err != nil {
			return nil, err
		}
		if msg.RequestID == "" {
			return nil, ErrInvalidMessage
		}
		return &msg, nil
	default:
		return nil, ErrUnknownMessageType
	}
}

// Queue defines the interface for a message queue.
type Queue interface {
	// Name returns the queue name.
	Name() string

	// Enqueue adds a message to the queue and returns its queue ID.
	Enqueue(ctx context.Context, msg Message) (string, error)

	// Dequeue retrieves up to maxMessages, blocking for at most timeout.
	Dequeue(ctx context.Context, maxMessages int, timeout time.Duration) ([]*QueuedMessage, error)

	// Ack acknowledges successful processing of a message.
	Ack(ctx context.Context, messageID string) error

	// Nack indicates processing failure; the message is retried with
	// backoff or dead-lettered after MaxRetries.
	Nack(ctx context.Context, messageID string) error

	// MoveToDeadLetter moves a message to the dead letter queue.
	MoveToDeadLetter(ctx context.Context, messageID string, reason string) error

	// Depth returns the current queue depth.
	Depth(ctx context.Context) (int64, error)

	// Close releases the queue.
	Close() error
}

// QueueConfig configures queue behavior.
type QueueConfig struct {
	Name              string        `yaml:"name"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetentionPeriod   time.Duration `yaml:"retention_period"`
}

// DefaultQueueConfig returns the configuration for the audit queue.
// Audits call an external model per material, so visibility is generous.
func DefaultQueueConfig(name string) QueueConfig {
	if name == "" {
		name = DefaultQueueName
	}
	return QueueConfig{
		Name:              name,
		VisibilityTimeout: 300 * time.Second,
		MaxRetries:        3,
		RetentionPeriod:   24 * time.Hour,
	}
}

var _ Message = (*AuditRequestMessage)(nil)
