package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue names
const (
	QueueCommissionIngest = "commission_ingest"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is a unit of background work
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Status     JobStatus       `json:"status"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	RunAt      time.Time       `json:"run_at"`
	Error      string          `json:"error,omitempty"`
}

// Queue is the job queue the processor pulls from
type Queue interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...EnqueueOption) (string, error)
	// Dequeue returns nil, nil when no job is ready.
	Dequeue(ctx context.Context, queueName string) (*Job, error)
	Complete(ctx context.Context, job *Job) error
	// Fail schedules a retry with backoff until MaxRetries is spent, then
	// parks the job on the failed list.
	Fail(ctx context.Context, job *Job, jobErr error) error
	Close() error
}

// JobHandler processes one job
type JobHandler func(ctx context.Context, job Job) (interface{}, error)

func newJob(queueName string, payload interface{}, opts []EnqueueOption) (*Job, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	options := &EnqueueOptions{maxRetry: DefaultRetryCount}
	for _, opt := range opts {
		opt(options)
	}

	now := time.Now().UTC()
	return &Job{
		ID:         uuid.New().String(),
		Queue:      queueName,
		Payload:    payloadBytes,
		Status:     JobStatusPending,
		MaxRetries: options.maxRetry,
		CreatedAt:  now,
		UpdatedAt:  now,
		RunAt:      now.Add(options.delay),
	}, nil
}

// JobPayload unmarshals a job payload
func JobPayload(payload []byte, v interface{}) error {
	return json.Unmarshal(payload, v)
}
