// Package events publishes audit lifecycle events to Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/binaudit/pkg/batch"
	"github.com/otherjamesbrown/binaudit/pkg/logging"
	"github.com/otherjamesbrown/binaudit/pkg/observability"
)

// Client is the subset of the Redis client used for publishing.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Publisher publishes audit events to Redis.
type Publisher struct {
	client Client
	logger logging.Logger
}

// NewPublisher creates a new event publisher.
func NewPublisher(client Client, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Publisher{
		client: client,
		logger: logger.With(logging.F("component", "event_publisher")),
	}
}

// PublishBatchCompleted publishes a summary of an audited batch.
func (p *Publisher) PublishBatchCompleted(ctx context.Context, resp *batch.Response, elapsed time.Duration) error {
	rec := resp.Record()
	event := observability.NewBatchCompletedEvent(resp.OrganizationID, resp.BatchID, rec.TransactionIDs)
	event.TraceID = observability.GetTraceID(ctx)
	event.Step1Passed = resp.Summary.Step1Passed
	event.Step1Failed = resp.Summary.Step1Failed
	event.Step2MaterialsAudited = resp.Summary.Step2MaterialsAudited
	event.Rejected = resp.Rejected()
	event.SystemFailures = resp.Failed()
	event.TotalTokens = resp.TokenUsage.TotalTokens
	event.DurationMs = elapsed.Milliseconds()

	return p.publish(ctx, observability.ChannelBatchCompleted, event)
}

// PublishAuditFailed publishes a request that could not be audited.
func (p *Publisher) PublishAuditFailed(ctx context.Context, organizationID, requestID, errorType string, cause error, attempts int) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	event := observability.NewAuditFailedEvent(organizationID, requestID, errorType, msg, attempts)
	return p.publish(ctx, observability.ChannelAuditFailed, event)
}

// publish serializes and publishes an event to Redis.
func (p *Publisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))

	return nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
