package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	readyKey   = "omini:jobs:ready"
	delayedKey = "omini:jobs:delayed"

	moverInterval = time.Second
	popTimeout    = time.Second
	moverBatch    = 100
)

// RedisQueue is the production job queue. Ready jobs live in a list consumed
// with BRPOP; delayed jobs live in a sorted set scored by their due time and
// are promoted by a mover goroutine. Promotion is at-least-once: a job can be
// promoted twice if two movers race, which the dispatcher's claim absorbs.
type RedisQueue struct {
	client redis.UniversalClient
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewRedisQueue(redisURL string, logger *slog.Logger) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return &RedisQueue{
		client:   redis.NewClient(opts),
		logger:   logger.With("module", "redis_queue"),
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobType string, payload any, opts Options) error {
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

	return q.push(ctx, job, opts.Delay)
}

func (q *RedisQueue) push(ctx context.Context, job *Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if delay <= 0 {
		err = q.client.LPush(ctx, readyKey, raw).Err()
		if err != nil {
			return fmt.Errorf("failed to push job: %w", err)
		}

		return nil
	}

	due := float64(time.Now().Add(delay).UnixMilli())

	err = q.client.ZAdd(ctx, delayedKey, redis.Z{Score: due, Member: raw}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule delayed job: %w", err)
	}

	return nil
}

func (q *RedisQueue) Handle(jobType string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[jobType] = handler
}

func (q *RedisQueue) Subscribe(ctx context.Context) error {
	err := q.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	q.wg.Add(2)

	go q.moveDueJobs(ctx)
	go q.consume(ctx)

	return nil
}

// moveDueJobs promotes delayed jobs whose due time has passed onto the ready
// list.
func (q *RedisQueue) moveDueJobs(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(moverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := q.promoteDue(ctx)
			if err != nil {
				q.logger.Error("Failed to promote due jobs", "error", err)
			}
		}
	}
}

func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	due, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: moverBatch,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range due {
		removed, err := q.client.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return err
		}

		// Another mover already claimed this member.
		if removed == 0 {
			continue
		}

		err = q.client.LPush(ctx, readyKey, member).Err()
		if err != nil {
			return err
		}
	}

	return nil
}

func (q *RedisQueue) consume(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		result, err := q.client.BRPop(ctx, popTimeout, readyKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}

			q.logger.Error("Failed to pop job", "error", err)
			time.Sleep(time.Second)

			continue
		}

		// BRPop returns [key, value].
		if len(result) != 2 {
			continue
		}

		q.dispatch(ctx, []byte(result[1]))
	}
}

func (q *RedisQueue) dispatch(ctx context.Context, raw []byte) {
	var job Job

	err := json.Unmarshal(raw, &job)
	if err != nil {
		q.logger.Error("Failed to decode job", "error", err)

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

	retryErr := q.push(ctx, &job, retryBackoff(job.Attempt))
	if retryErr != nil {
		q.logger.Error("Failed to schedule retry", "job_id", job.ID, "error", retryErr)
	}
}

func (q *RedisQueue) Close() error {
	close(q.stopCh)
	q.wg.Wait()

	return q.client.Close()
}
