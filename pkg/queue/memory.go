package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// JobsTopic carries jobs on the watermill transport.
const JobsTopic = "omini.jobs"

// MemoryQueue is a watermill GoChannel backed queue for development and
// tests. Delayed jobs are held back by timers, so pending delays do not
// survive a process restart; the scheduler's due-step sweep recovers them.
type MemoryQueue struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	timers    sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

func NewMemoryQueue(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With("module", "memory_queue"),
		handlers:   make(map[string]Handler),
		closed:     make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobType string, payload any, opts Options) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	job := &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     raw,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}

	return q.publish(job, opts.Delay)
}

func (q *MemoryQueue) publish(job *Job, delay time.Duration) error {
	if delay <= 0 {
		return q.publishNow(job)
	}

	select {
	case <-q.closed:
		return nil
	default:
	}

	q.timers.Add(1)
	timer := time.AfterFunc(delay, func() {
		defer q.timers.Done()

		select {
		case <-q.closed:
			return
		default:
		}

		err := q.publishNow(job)
		if err != nil {
			q.logger.Error("Failed to publish delayed job", "job_id", job.ID, "error", err)
		}
	})

	go func() {
		<-q.closed
		if timer.Stop() {
			q.timers.Done()
		}
	}()

	return nil
}

func (q *MemoryQueue) publishNow(job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	msg := message.NewMessage(job.ID, raw)

	return q.publisher.Publish(JobsTopic, msg)
}

func (q *MemoryQueue) Handle(jobType string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[jobType] = handler
}

func (q *MemoryQueue) Subscribe(ctx context.Context) error {
	messages, err := q.subscriber.Subscribe(ctx, JobsTopic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			q.consume(ctx, msg)
		}
	}()

	return nil
}

func (q *MemoryQueue) consume(ctx context.Context, msg *message.Message) {
	// Retries are re-published by the queue itself, so the delivery is
	// always acked.
	defer msg.Ack()

	var job Job

	err := json.Unmarshal(msg.Payload, &job)
	if err != nil {
		q.logger.Error("Failed to decode job", "message_id", msg.UUID, "error", err)

		return
	}

	q.mu.RLock()
	handler, exists := q.handlers[job.Type]
	q.mu.RUnlock()

	if !exists {
		q.logger.Warn("No handler registered for job type", "job_type", job.Type)

		return
	}

	job.Attempt++

	err = handler(ctx, &job)
	if err == nil {
		return
	}

	if job.Attempt >= job.MaxAttempts {
		q.logger.Error("Job exhausted attempts",
			"job_id", job.ID,
			"job_type", job.Type,
			"attempts", job.Attempt,
			"error", err)

		return
	}

	q.logger.Warn("Job failed, scheduling retry",
		"job_id", job.ID,
		"attempt", job.Attempt,
		"error", err)

	retryErr := q.publish(&job, retryBackoff(job.Attempt))
	if retryErr != nil {
		q.logger.Error("Failed to schedule retry", "job_id", job.ID, "error", retryErr)
	}
}

// Close cancels pending delayed jobs, waits for their watchers to finish,
// and shuts down the transport. Safe to call more than once.
func (q *MemoryQueue) Close() error {
	var err error

	q.closeOnce.Do(func() {
		close(q.closed)
		q.timers.Wait()

		err = q.publisher.Close()

		subErr := q.subscriber.Close()
		if err == nil {
			err = subErr
		}
	})

	return err
}
