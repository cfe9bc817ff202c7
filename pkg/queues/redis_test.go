package queues

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, calculateBackoff(1))
	assert.Equal(t, 8*time.Second, calculateBackoff(3))
	assert.Equal(t, 5*time.Minute, calculateBackoff(12))
	assert.Equal(t, 5*time.Minute, calculateBackoff(64))
	assert.Equal(t, time.Second, calculateBackoff(-1))
}

func TestScore_PriorityThenAge(t *testing.T) {
	now := time.Now()
	assert.Greater(t, score(PriorityHigh, now), score(PriorityNormal, now.Add(-time.Hour)))
	assert.Greater(t, score(PriorityNormal, now.Add(-time.Minute)), score(PriorityNormal, now))
}

// newTestQueue connects to REDIS_ADDR and returns a queue with a unique name.
func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis test in short mode")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	cfg := DefaultQueueConfig("test:" + uuid.New().String())
	cfg.MaxRetries = 2
	q := NewRedisQueue(client, cfg)
	t.Cleanup(func() {
		ctx := context.Background()
		client.Del(ctx, q.queueKey(), q.processingKey(), q.dlqKey())
	})
	return q
}

func TestRedisQueue_EnqueueDequeueAck(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	low, err := q.Enqueue(ctx, NewAuditRequestMessage("low", sampleRequest(), PriorityLow))
	require.NoError(t, err)
	high, err := q.Enqueue(ctx, NewAuditRequestMessage("high", sampleRequest(), PriorityHigh))
	require.NoError(t, err)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	msgs, err := q.Dequeue(ctx, 2, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, high, msgs[0].ID)
	assert.Equal(t, low, msgs[1].ID)

	for _, m := range msgs {
		require.NoError(t, q.Ack(ctx, m.ID))
	}
	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestRedisQueue_NackDeadLetters(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, NewAuditRequestMessage("req", sampleRequest(), PriorityNormal))
	require.NoError(t, err)

	for attempt := 0; attempt < 2; attempt++ {
		msgs, err := q.Dequeue(ctx, 1, time.Second)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, id, msgs[0].ID)
		require.NoError(t, q.Nack(ctx, id))
	}

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "max retries exceeded", dead[0].Reason)

	assert.ErrorIs(t, q.Nack(ctx, id), ErrMessageNotFound)
}

func TestRedisQueue_DequeueEmptyTimesOut(t *testing.T) {
	q := newTestQueue(t)

	start := time.Now()
	msgs, err := q.Dequeue(context.Background(), 1, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestRedisQueue_Closed(t *testing.T) {
	q := NewRedisQueue(nil, DefaultQueueConfig(""))
	require.NoError(t, q.Close())

	_, err := q.Enqueue(context.Background(), NewAuditRequestMessage("r", sampleRequest(), PriorityLow))
	assert.ErrorIs(t, err, ErrQueueClosed)
	_, err = q.Dequeue(context.Background(), 1, time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueClosed)
}
