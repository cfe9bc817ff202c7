// Package workers runs pools of workers that consume queued audit requests.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/binaudit/pkg/logging"
	"github.com/otherjamesbrown/binaudit/pkg/observability"
	"github.com/otherjamesbrown/binaudit/pkg/queues"
)

// WorkerStatus represents the worker's current status.
type WorkerStatus string

const (
	WorkerStatusStarting WorkerStatus = "starting"
	WorkerStatusHealthy  WorkerStatus = "healthy"
	WorkerStatusDraining WorkerStatus = "draining"
	WorkerStatusStopped  WorkerStatus = "stopped"
)

// MessageHandler processes a queue message.
type MessageHandler func(ctx context.Context, msg queues.Message) error

// WorkerConfig configures a worker.
type WorkerConfig struct {
	Count             int           `yaml:"count"`
	QueueName         string        `yaml:"queue_name"`
	BatchSize         int           `yaml:"batch_size"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	RecoverInterval   time.Duration `yaml:"recover_interval"`
}

// DefaultWorkerConfig returns the audit worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Count:             2,
		QueueName:         queues.DefaultQueueName,
		BatchSize:         1,
		VisibilityTimeout: 300 * time.Second,
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   60 * time.Second,
		RecoverInterval:   30 * time.Second,
	}
}

// handlerTimeout leaves headroom before the message becomes visible again.
func (c WorkerConfig) handlerTimeout() time.Duration {
	if c.VisibilityTimeout > 20*time.Second {
		return c.VisibilityTimeout - 10*time.Second
	}
	if c.VisibilityTimeout > 0 {
		return c.VisibilityTimeout
	}
	return DefaultWorkerConfig().VisibilityTimeout
}

// Worker processes messages from one queue.
type Worker struct {
	ID      string
	Config  WorkerConfig
	Queue   queues.Queue
	Handler MessageHandler

	ProcessedCount atomic.Int64
	FailedCount    atomic.Int64

	mu           sync.Mutex
	status       WorkerStatus
	startedAt    time.Time
	lastActivity time.Time

	logger  logging.Logger
	metrics *observability.AuditMetrics

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a new worker.
func NewWorker(config WorkerConfig, queue queues.Queue, handler MessageHandler, logger logging.Logger, metrics *observability.AuditMetrics) *Worker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	id := uuid.New().String()
	return &Worker{
		ID:      id,
		Config:  config,
		Queue:   queue,
		Handler: handler,
		status:  WorkerStatusStarting,
		logger:  logger.With(logging.F("worker_id", id)),
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Status returns the worker's current status.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// LastActivity returns when the worker last picked up a message.
func (w *Worker) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

func (w *Worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// Start begins processing messages until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Lock()
	w.startedAt = time.Now()
	w.status = WorkerStatusHealthy
	w.mu.Unlock()

	go func() {
		defer close(w.done)
		w.processLoop(ctx)
	}()
}

// Stop gracefully stops the worker, waiting up to ShutdownTimeout for the
// in-flight message.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.setStatus(WorkerStatusDraining)
	w.cancel()

	select {
	case <-w.done:
	case <-time.After(w.Config.ShutdownTimeout):
		w.logger.Warn("Worker did not drain before shutdown timeout")
	}
	w.setStatus(WorkerStatusStopped)
}

func (w *Worker) processLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		messages, err := w.Queue.Dequeue(ctx, w.Config.BatchSize, w.Config.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Dequeue failed", logging.Err(err))
			select {
			case <-time.After(w.Config.PollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, qm := range messages {
			if ctx.Err() != nil {
				return
			}
			w.processMessage(ctx, qm)
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, qm *queues.QueuedMessage) {
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()
	w.record("dequeued")

	// Acks must land even while the worker is draining.
	ackCtx := context.WithoutCancel(ctx)
	log := w.logger.With(logging.F("message_id", qm.ID), logging.F("retry_count", qm.RetryCount))

	msg, err := qm.ParseMessage()
	if err != nil {
		w.deadLetter(ackCtx, log, qm.ID, fmt.Sprintf("parse error: %v", err))
		w.FailedCount.Add(1)
		return
	}

	hctx, cancel := context.WithTimeout(ctx, w.Config.handlerTimeout())
	defer cancel()

	if err := w.Handler(hctx, msg); err != nil {
		w.FailedCount.Add(1)
		var procErr *queues.ProcessingError
		if errors.As(err, &procErr) && !procErr.IsRetryable() {
			w.deadLetter(ackCtx, log, qm.ID, procErr.Error())
			return
		}
		log.Warn("Message failed, retrying", logging.Err(err))
		if nackErr := w.Queue.Nack(ackCtx, qm.ID); nackErr != nil {
			log.Error("Nack failed", logging.Err(nackErr))
		}
		w.record("nacked")
		return
	}

	if err := w.Queue.Ack(ackCtx, qm.ID); err != nil {
		log.Error("Ack failed", logging.Err(err))
	}
	w.record("acked")
	w.ProcessedCount.Add(1)
}

func (w *Worker) deadLetter(ctx context.Context, log logging.Logger, id, reason string) {
	log.Warn("Moving message to dead letter queue", logging.F("reason", reason))
	if err := w.Queue.MoveToDeadLetter(ctx, id, reason); err != nil {
		log.Error("Dead letter failed", logging.Err(err))
	}
	if w.metrics != nil {
		w.metrics.RecordDLQItem(w.Queue.Name())
	}
}

func (w *Worker) record(action string) {
	if w.metrics != nil {
		w.metrics.RecordQueue(w.Queue.Name(), action)
	}
}

// StaleRecoverer is implemented by queues that can requeue messages whose
// visibility timeout expired.
type StaleRecoverer interface {
	RecoverStaleMessages(ctx context.Context) (int, error)
}

// Pool manages a pool of workers sharing one queue.
type Pool struct {
	Config  WorkerConfig
	Queue   queues.Queue
	Handler MessageHandler

	logger  logging.Logger
	metrics *observability.AuditMetrics

	mu      sync.RWMutex
	workers []*Worker
	cancel  context.CancelFunc
	janitor sync.WaitGroup
}

// NewPool creates a new worker pool.
func NewPool(config WorkerConfig, queue queues.Queue, handler MessageHandler, logger logging.Logger, metrics *observability.AuditMetrics) *Pool {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if config.Count <= 0 {
		config.Count = 1
	}
	return &Pool{
		Config:  config,
		Queue:   queue,
		Handler: handler,
		logger:  logger.With(logging.F("component", "worker_pool"), logging.F("queue", queue.Name())),
		metrics: metrics,
	}
}

// Start starts all workers in the pool and, when the queue supports it,
// a loop that recovers stale messages.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.Config.Count; i++ {
		worker := NewWorker(p.Config, p.Queue, p.Handler, p.logger, p.metrics)
		worker.Start(ctx)
		p.workers = append(p.workers, worker)
	}

	if r, ok := p.Queue.(StaleRecoverer); ok && p.Config.RecoverInterval > 0 {
		p.janitor.Add(1)
		go func() {
			defer p.janitor.Done()
			p.recoverLoop(ctx, r)
		}()
	}
	p.logger.Info("Worker pool started", logging.F("workers", p.Config.Count))
}

func (p *Pool) recoverLoop(ctx context.Context, r StaleRecoverer) {
	ticker := time.NewTicker(p.Config.RecoverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.RecoverStaleMessages(ctx)
			if err != nil {
				p.logger.Warn("Stale message recovery failed", logging.Err(err))
				continue
			}
			if n > 0 {
				p.logger.Info("Recovered stale messages", logging.F("count", n))
			}
		}
	}
}

// Stop gracefully stops all workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}

	var wg sync.WaitGroup
	for _, worker := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(worker)
	}
	wg.Wait()
	p.janitor.Wait()
	p.logger.Info("Worker pool stopped")
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{Queue: p.Queue.Name(), WorkerCount: len(p.workers)}
	for _, w := range p.workers {
		if w.Status() == WorkerStatusHealthy {
			stats.ActiveCount++
		}
		stats.Processed += w.ProcessedCount.Load()
		stats.Failed += w.FailedCount.Load()
	}
	return stats
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Queue       string
	WorkerCount int
	ActiveCount int
	Processed   int64
	Failed      int64
}
