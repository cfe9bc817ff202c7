package workers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/binaudit/pkg/queues"
)

// memQueue is an in-memory queues.Queue.
type memQueue struct {
	mu      sync.Mutex
	pending []*queues.QueuedMessage
	acked   []string
	nacked  []string
	dead    map[string]string
	recover int
}

func newMemQueue() *memQueue {
	return &memQueue{dead: map[string]string{}}
}

func (q *memQueue) Name() string { return "audit:test" }

func (q *memQueue) Enqueue(_ context.Context, msg queues.Message) (string, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return q.push(&queues.QueuedMessage{MessageType: msg.GetMessageType(), Message: raw}), nil
}

func (q *memQueue) push(qm *queues.QueuedMessage) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if qm.ID == "" {
		qm.ID = uuid.New().String()
	}
	qm.EnqueuedAt = time.Now()
	q.pending = append(q.pending, qm)
	return qm.ID
}

func (q *memQueue) Dequeue(ctx context.Context, max int, timeout time.Duration) ([]*queues.QueuedMessage, error) {
	q.mu.Lock()
	if len(q.pending) > 0 {
		n := min(max, len(q.pending))
		out := q.pending[:n:n]
		q.pending = q.pending[n:]
		q.mu.Unlock()
		return out, nil
	}
	q.mu.Unlock()

	select {
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *memQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

func (q *memQueue) Nack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nacked = append(q.nacked, id)
	return nil
}

func (q *memQueue) MoveToDeadLetter(_ context.Context, id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead[id] = reason
	return nil
}

func (q *memQueue) Depth(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *memQueue) Close() error { return nil }

func (q *memQueue) RecoverStaleMessages(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recover++
	return 0, nil
}

// settled reports how many messages reached a terminal queue action.
func (q *memQueue) settled() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acked) + len(q.nacked) + len(q.dead)
}

func (q *memQueue) snapshot() (acked, nacked []string, dead map[string]string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	dead = make(map[string]string, len(q.dead))
	for k, v := range q.dead {
		dead[k] = v
	}
	return append([]string(nil), q.acked...), append([]string(nil), q.nacked...), dead
}

var _ queues.Queue = (*memQueue)(nil)
