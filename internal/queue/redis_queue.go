package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis key prefixes
const (
	queuePrefix   = "queue:"
	delayedPrefix = "delayed:"
	failedPrefix  = "failed:"
	jobPrefix     = "jobs:"
)

// RedisQueue implements Queue with a Redis list per queue, a sorted set of
// delayed jobs scored by run time, and a hash per job for lookups.
type RedisQueue struct {
	client      *redis.Client
	logger      *slog.Logger
	pollTimeout time.Duration
}

// NewRedisQueue creates a new Redis queue
func NewRedisQueue(client *redis.Client, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		client:      client,
		logger:      logger,
		pollTimeout: time.Second,
	}
}

// Close closes the Redis client
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Enqueue adds a job to the queue, or to the delayed set when WithDelay is given
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...EnqueueOption) (string, error) {
	job, err := newJob(queueName, payload, opts)
	if err != nil {
		return "", err
	}
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	if job.RunAt.After(job.CreatedAt) {
		pipe.ZAdd(ctx, delayedPrefix+queueName, &redis.Z{
			Score:  float64(job.RunAt.Unix()),
			Member: jobBytes,
		})
	} else {
		pipe.LPush(ctx, queuePrefix+queueName, jobBytes)
	}
	pipe.HSet(ctx, jobPrefix+job.ID, "data", jobBytes)
	pipe.Expire(ctx, jobPrefix+job.ID, DefaultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to push job to queue: %w", err)
	}
	return job.ID, nil
}

// Dequeue gets a job from the queue, blocking for at most the poll timeout
func (q *RedisQueue) Dequeue(ctx context.Context, queueName string) (*Job, error) {
	q.moveReadyDelayedJobs(ctx, queueName)

	result, err := q.client.BRPop(ctx, q.pollTimeout, queuePrefix+queueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop job from queue: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected result format from BRPOP")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	job.Status = JobStatusProcessing
	job.UpdatedAt = time.Now().UTC()
	q.store(ctx, &job)
	return &job, nil
}

// moveReadyDelayedJobs moves delayed jobs that are ready to run to the main queue
func (q *RedisQueue) moveReadyDelayedJobs(ctx context.Context, queueName string) {
	jobs, err := q.client.ZRangeByScore(ctx, delayedPrefix+queueName, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		q.logger.Error("error getting ready delayed jobs", "queue", queueName, "error", err)
		return
	}

	for _, jobStr := range jobs {
		// ZRem first so two workers never both move the same job
		removed, err := q.client.ZRem(ctx, delayedPrefix+queueName, jobStr).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, queuePrefix+queueName, jobStr).Err(); err != nil {
			q.logger.Error("error moving delayed job to main queue", "queue", queueName, "error", err)
		}
	}
}

// Complete marks a job as completed
func (q *RedisQueue) Complete(ctx context.Context, job *Job) error {
	job.Status = JobStatusCompleted
	job.UpdatedAt = time.Now().UTC()
	return q.store(ctx, job)
}

// Fail retries the job after a backoff or parks it on the failed list
func (q *RedisQueue) Fail(ctx context.Context, job *Job, jobErr error) error {
	job.Error = jobErr.Error()
	job.UpdatedAt = time.Now().UTC()

	if job.RetryCount < job.MaxRetries {
		job.Status = JobStatusPending
		job.RetryCount++
		job.RunAt = job.UpdatedAt.Add(calculateBackoff(job.RetryCount))
		jobBytes, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := q.client.ZAdd(ctx, delayedPrefix+job.Queue, &redis.Z{
			Score:  float64(job.RunAt.Unix()),
			Member: jobBytes,
		}).Err(); err != nil {
			return fmt.Errorf("failed to add job to delayed queue: %w", err)
		}
		return q.store(ctx, job)
	}

	job.Status = JobStatusFailed
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, failedPrefix+job.Queue, jobBytes).Err(); err != nil {
		return fmt.Errorf("failed to park failed job: %w", err)
	}
	return q.store(ctx, job)
}

// Stats returns queue depths
func (q *RedisQueue) Stats(ctx context.Context, queueName string) (QueueStats, error) {
	stats := QueueStats{Queue: queueName}
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, queuePrefix+queueName)
	delayed := pipe.ZCard(ctx, delayedPrefix+queueName)
	failed := pipe.LLen(ctx, failedPrefix+queueName)
	if _, err := pipe.Exec(ctx); err != nil {
		return stats, fmt.Errorf("failed to read queue stats: %w", err)
	}
	stats.Waiting = waiting.Val()
	stats.Delayed = delayed.Val()
	stats.Failed = failed.Val()
	return stats, nil
}

func (q *RedisQueue) store(ctx context.Context, job *Job) error {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.HSet(ctx, jobPrefix+job.ID, "data", jobBytes).Err(); err != nil {
		q.logger.Warn("failed to update job details", "job_id", job.ID, "error", err)
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}
