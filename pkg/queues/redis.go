package queues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key prefixes
const (
	keyPrefixQueue      = "queue:"      // Main queue (sorted set by priority)
	keyPrefixProcessing = "processing:" // Messages being processed
	keyPrefixMessage    = "msg:"        // Message data
	keyPrefixDLQ        = "dlq:"        // Dead letter queue
)

// pollInterval is how long Dequeue waits between empty polls.
const pollInterval = 100 * time.Millisecond

// RedisQueue implements Queue using Redis sorted sets.
type RedisQueue struct {
	client redis.UniversalClient
	name   string
	config QueueConfig
	closed atomic.Bool
}

// NewRedisQueue creates a new Redis-backed queue.
func NewRedisQueue(client redis.UniversalClient, config QueueConfig) *RedisQueue {
	if config.Name == "" {
		config.Name = DefaultQueueName
	}
	return &RedisQueue{
		client: client,
		name:   config.Name,
		config: config,
	}
}

// Name returns the queue name.
func (q *RedisQueue) Name() string {
	return q.name
}

func (q *RedisQueue) queueKey() string      { return keyPrefixQueue + q.name }
func (q *RedisQueue) processingKey() string { return keyPrefixProcessing + q.name }
func (q *RedisQueue) dlqKey() string        { return keyPrefixDLQ + q.name }
func (q *RedisQueue) messageKey(id string) string {
	return keyPrefixMessage + q.name + ":" + id
}

// score orders higher priorities first and FIFO within a priority.
// ZPopMax takes the highest score, so age is subtracted.
func score(p Priority, at time.Time) float64 {
	return float64(p)*1e12 - float64(at.Unix())
}

// Enqueue adds a message to the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) (string, error) {
	if q.closed.Load() {
		return "", ErrQueueClosed
	}

	messageID := uuid.New().String()
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	now := time.Now()
	qm := &QueuedMessage{
		ID:          messageID,
		Message:     msgBytes,
		MessageType: msg.GetMessageType(),
		Priority:    msg.GetPriority(),
		EnqueuedAt:  now,
	}
	qmBytes, err := json.Marshal(qm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queued message: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.messageKey(messageID), qmBytes, q.config.RetentionPeriod)
	pipe.ZAdd(ctx, q.queueKey(), redis.Z{Score: score(qm.Priority, now), Member: messageID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}
	return messageID, nil
}

// Dequeue retrieves messages from the queue.
func (q *RedisQueue) Dequeue(ctx context.Context, maxMessages int, timeout time.Duration) ([]*QueuedMessage, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	deadline := time.Now().Add(timeout)
	var messages []*QueuedMessage

	for len(messages) < maxMessages {
		result, err := q.client.ZPopMax(ctx, q.queueKey(), 1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return messages, fmt.Errorf("failed to pop from queue: %w", err)
		}
		if len(result) == 0 {
			if len(messages) > 0 || !time.Now().Before(deadline) {
				return messages, nil
			}
			select {
			case <-time.After(pollInterval):
				continue
			case <-ctx.Done():
				return messages, ctx.Err()
			}
		}

		messageID, ok := result[0].Member.(string)
		if !ok {
			continue
		}
		msgKey := q.messageKey(messageID)

		data, err := q.client.Get(ctx, msgKey).Bytes()
		if errors.Is(err, redis.Nil) {
			// Expired past retention.
			continue
		}
		if err != nil {
			return messages, fmt.Errorf("failed to get message data: %w", err)
		}

		var qm QueuedMessage
		if err := json.Unmarshal(data, &qm); err != nil {
			return messages, fmt.Errorf("failed to unmarshal message: %w", err)
		}

		qm.VisibleAfter = time.Now().Add(q.config.VisibilityTimeout)
		updated, err := json.Marshal(qm)
		if err != nil {
			return messages, fmt.Errorf("failed to marshal message: %w", err)
		}

		pipe := q.client.TxPipeline()
		pipe.Set(ctx, msgKey, updated, q.config.RetentionPeriod)
		pipe.ZAdd(ctx, q.processingKey(), redis.Z{
			Score:  float64(qm.VisibleAfter.UnixNano()),
			Member: messageID,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return messages, fmt.Errorf("failed to move to processing: %w", err)
		}

		messages = append(messages, &qm)
	}

	return messages, nil
}

// Ack acknowledges successful processing of a message.
func (q *RedisQueue) Ack(ctx context.Context, messageID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), messageID)
	pipe.Del(ctx, q.messageKey(messageID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

func (q *RedisQueue) load(ctx context.Context, messageID string) (*QueuedMessage, []byte, error) {
	data, err := q.client.Get(ctx, q.messageKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get message: %w", err)
	}
	var qm QueuedMessage
	if err := json.Unmarshal(data, &qm); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &qm, data, nil
}

// Nack indicates processing failure, message will be retried.
func (q *RedisQueue) Nack(ctx context.Context, messageID string) error {
	qm, _, err := q.load(ctx, messageID)
	if err != nil {
		return err
	}
	return q.retry(ctx, qm, "max retries exceeded")
}

func (q *RedisQueue) retry(ctx context.Context, qm *QueuedMessage, reason string) error {
	qm.RetryCount++
	if qm.RetryCount >= q.config.MaxRetries {
		return q.MoveToDeadLetter(ctx, qm.ID, reason)
	}

	qm.VisibleAfter = time.Now().Add(calculateBackoff(qm.RetryCount))
	updated, err := json.Marshal(qm)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), qm.ID)
	pipe.Set(ctx, q.messageKey(qm.ID), updated, q.config.RetentionPeriod)
	// Retries sort behind fresh work of the same priority.
	pipe.ZAdd(ctx, q.queueKey(), redis.Z{Score: score(qm.Priority, qm.VisibleAfter), Member: qm.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack message: %w", err)
	}
	return nil
}

// MoveToDeadLetter moves a message to the dead letter queue.
func (q *RedisQueue) MoveToDeadLetter(ctx context.Context, messageID string, reason string) error {
	_, data, err := q.load(ctx, messageID)
	if err != nil {
		return err
	}

	entry, err := json.Marshal(DeadLetter{
		Message:   string(data),
		Reason:    reason,
		MovedAt:   time.Now().UTC(),
		QueueName: q.name,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), messageID)
	pipe.Del(ctx, q.messageKey(messageID))
	pipe.ZAdd(ctx, q.dlqKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: string(entry),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to move to DLQ: %w", err)
	}
	return nil
}

// DeadLetter is a dead-lettered message with the reason it was parked.
type DeadLetter struct {
	Message   string    `json:"message"`
	Reason    string    `json:"reason"`
	MovedAt   time.Time `json:"moved_at"`
	QueueName string    `json:"queue_name"`
}

// DeadLetters returns up to limit dead letters, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := q.client.ZRevRange(ctx, q.dlqKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// Depth returns the current queue depth.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueKey()).Result()
}

// Close marks the queue closed. The client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

// calculateBackoff calculates exponential backoff for retries.
func calculateBackoff(retryCount int) time.Duration {
	// 1s, 2s, 4s, 8s, ... capped at 5 minutes
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 16 {
		retryCount = 16
	}
	backoff := time.Second * time.Duration(1<<uint(retryCount))
	if maxBackoff := 5 * time.Minute; backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// RecoverStaleMessages requeues messages whose visibility timeout expired
// and returns how many it recovered. Call it periodically.
func (q *RedisQueue) RecoverStaleMessages(ctx context.Context) (int, error) {
	now := float64(time.Now().UnixNano())
	stale, err := q.client.ZRangeByScore(ctx, q.processingKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", now),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find stale messages: %w", err)
	}

	recovered := 0
	for _, messageID := range stale {
		qm, _, err := q.load(ctx, messageID)
		if errors.Is(err, ErrMessageNotFound) {
			q.client.ZRem(ctx, q.processingKey(), messageID)
			continue
		}
		if err != nil {
			continue
		}
		if err := q.retry(ctx, qm, "visibility timeout exceeded"); err != nil {
			continue
		}
		recovered++
	}
	return recovered, nil
}

var _ Queue = (*RedisQueue)(nil)
