// Package queue defines the at-least-once job queue the engine schedules
// step work on. Jobs may be delivered more than once; handlers are expected
// to be idempotent. Delayed delivery backs delay-node continuations.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StepExecuteJobType is the job type carrying one run-step execution.
const StepExecuteJobType = "step.execute"

// DefaultMaxAttempts is applied when Options.MaxAttempts is zero.
const DefaultMaxAttempts = 3

// Job is one unit of queued work.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// Options controls scheduling of an enqueued job.
type Options struct {
	Delay       time.Duration
	MaxAttempts int
}

// Handler consumes one delivery of a job. A returned error triggers a retry
// with backoff until the job's attempts are exhausted.
type Handler func(ctx context.Context, job *Job) error

// Queue is the scheduling contract consumed by the engine.
type Queue interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts Options) error
	Handle(jobType string, handler Handler)
	Subscribe(ctx context.Context) error
	Close() error
}

// StepJob is the payload of a step-execution job.
type StepJob struct {
	RunID     string `json:"run_id"`
	StepID    string `json:"step_id"`
	JourneyID string `json:"journey_id"`
}

// DecodeStepJob parses a step-execution payload.
func DecodeStepJob(job *Job) (*StepJob, error) {
	var step StepJob

	err := json.Unmarshal(job.Payload, &step)
	if err != nil {
		return nil, fmt.Errorf("failed to decode step job payload: %w", err)
	}

	return &step, nil
}

// retryBackoff returns the delay before re-delivering a failed job. Attempts
// count from 1.
func retryBackoff(attempt int) time.Duration {
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > time.Minute {
		return time.Minute
	}

	return backoff
}
