package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/binaudit/pkg/batch"
	"github.com/otherjamesbrown/binaudit/pkg/logging"
	"github.com/otherjamesbrown/binaudit/pkg/queues"
)

// Auditor runs a batch audit.
type Auditor interface {
	Audit(ctx context.Context, req batch.Request) (*batch.Response, error)
}

// EventPublisher announces audit outcomes.
type EventPublisher interface {
	PublishBatchCompleted(ctx context.Context, resp *batch.Response, elapsed time.Duration) error
	PublishAuditFailed(ctx context.Context, organizationID, requestID, errorType string, cause error, attempts int) error
}

// Recorder persists audited batches.
type Recorder interface {
	RecordBatch(ctx context.Context, requestID string, resp *batch.Response) error
}

// AuditHandler turns queued audit requests into batch audits.
type AuditHandler struct {
	auditor   Auditor
	publisher EventPublisher
	recorder  Recorder
	logger    logging.Logger
	now       func() time.Time
}

// HandlerOption configures an AuditHandler.
type HandlerOption func(*AuditHandler)

// WithPublisher publishes completion and failure events.
func WithPublisher(p EventPublisher) HandlerOption {
	return func(h *AuditHandler) { h.publisher = p }
}

// WithRecorder persists every audited batch.
func WithRecorder(r Recorder) HandlerOption {
	return func(h *AuditHandler) { h.recorder = r }
}

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(l logging.Logger) HandlerOption {
	return func(h *AuditHandler) { h.logger = l }
}

// NewAuditHandler creates a handler running audits on a.
func NewAuditHandler(a Auditor, opts ...HandlerOption) *AuditHandler {
	h := &AuditHandler{auditor: a, logger: logging.NewNopLogger(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(logging.F("component", "audit_handler"))
	return h
}

// Handle processes one message. Returned errors are ProcessingErrors so
// the worker can decide between retry and dead-lettering.
func (h *AuditHandler) Handle(ctx context.Context, msg queues.Message) error {
	m, ok := msg.(*queues.AuditRequestMessage)
	if !ok {
		return queues.NewPermanentError(queues.ErrorCodeParseError,
			fmt.Sprintf("unexpected message type %s", msg.GetMessageType()), queues.ErrUnknownMessageType)
	}
	log := h.logger.With(
		logging.F("request_id", m.RequestID),
		logging.F("organization_id", m.GetOrganizationID()))

	start := h.now()
	resp, err := h.auditor.Audit(ctx, m.Request)
	if err != nil {
		procErr := queues.Classify(err)
		log.Warn("Audit request failed",
			logging.F("category", string(procErr.Category)),
			logging.Err(err))
		if !procErr.IsRetryable() && h.publisher != nil {
			if pubErr := h.publisher.PublishAuditFailed(ctx, m.GetOrganizationID(), m.RequestID, string(procErr.Category), err, 1); pubErr != nil {
				log.Warn("Failed to publish audit failure", logging.Err(pubErr))
			}
		}
		return procErr
	}
	elapsed := h.now().Sub(start)

	if h.recorder != nil {
		if err := h.recorder.RecordBatch(ctx, m.RequestID, resp); err != nil {
			return queues.NewDependencyError(queues.ErrorCodeInternal, "record audit run", err)
		}
	}

	if h.publisher != nil {
		// Publishing is best effort.
		if err := h.publisher.PublishBatchCompleted(ctx, resp, elapsed); err != nil {
			log.Warn("Failed to publish batch completion", logging.Err(err))
		}
	}

	log.Info("Audit request processed",
		logging.F("batch_id", resp.BatchID),
		logging.F("transactions", len(resp.Transactions)),
		logging.F("duration", elapsed))
	return nil
}
