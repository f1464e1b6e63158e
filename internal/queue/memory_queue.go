package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue used with the memory store and in tests.
// Jobs do not survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   map[string][]*Job
	delayed map[string][]*Job
	failed  map[string][]*Job
	jobs    map[string]*Job
	notify  chan struct{}
	backoff func(retry int) time.Duration
}

// NewMemoryQueue creates an empty in-process queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		ready:   make(map[string][]*Job),
		delayed: make(map[string][]*Job),
		failed:  make(map[string][]*Job),
		jobs:    make(map[string]*Job),
		notify:  make(chan struct{}, 1),
		backoff: calculateBackoff,
	}
}

// Enqueue adds a job
func (q *MemoryQueue) Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...EnqueueOption) (string, error) {
	job, err := newJob(queueName, payload, opts)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	if job.RunAt.After(job.CreatedAt) {
		q.delayed[queueName] = append(q.delayed[queueName], job)
	} else {
		q.ready[queueName] = append(q.ready[queueName], job)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return job.ID, nil
}

// Dequeue waits briefly for a ready job
func (q *MemoryQueue) Dequeue(ctx context.Context, queueName string) (*Job, error) {
	if job := q.pop(queueName); job != nil {
		return job, nil
	}
	select {
	case <-ctx.Done():
		return nil, nil
	case <-q.notify:
	case <-time.After(100 * time.Millisecond):
	}
	return q.pop(queueName), nil
}

func (q *MemoryQueue) pop(queueName string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	waiting := q.delayed[queueName][:0]
	for _, job := range q.delayed[queueName] {
		if !job.RunAt.After(now) {
			q.ready[queueName] = append(q.ready[queueName], job)
			continue
		}
		waiting = append(waiting, job)
	}
	q.delayed[queueName] = waiting

	if len(q.ready[queueName]) == 0 {
		return nil
	}
	job := q.ready[queueName][0]
	q.ready[queueName] = q.ready[queueName][1:]
	job.Status = JobStatusProcessing
	job.UpdatedAt = now
	out := *job
	return &out
}

// Complete marks a job as completed
func (q *MemoryQueue) Complete(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = JobStatusCompleted
	job.UpdatedAt = time.Now().UTC()
	stored := *job
	q.jobs[job.ID] = &stored
	return nil
}

// Fail retries the job after a backoff or parks it on the failed list
func (q *MemoryQueue) Fail(ctx context.Context, job *Job, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job.Error = jobErr.Error()
	job.UpdatedAt = time.Now().UTC()
	stored := *job
	if job.RetryCount < job.MaxRetries {
		stored.Status = JobStatusPending
		stored.RetryCount++
		stored.RunAt = stored.UpdatedAt.Add(q.backoff(stored.RetryCount))
		q.delayed[job.Queue] = append(q.delayed[job.Queue], &stored)
	} else {
		stored.Status = JobStatusFailed
		q.failed[job.Queue] = append(q.failed[job.Queue], &stored)
	}
	*job = stored
	q.jobs[job.ID] = &stored
	return nil
}

// Get returns a snapshot of a job by id
func (q *MemoryQueue) Get(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	out := *job
	return &out, true
}

// Stats returns queue depths
func (q *MemoryQueue) Stats(queueName string) QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Queue:   queueName,
		Waiting: int64(len(q.ready[queueName])),
		Delayed: int64(len(q.delayed[queueName])),
		Failed:  int64(len(q.failed[queueName])),
	}
}

// Close is a no-op
func (q *MemoryQueue) Close() error {
	return nil
}
