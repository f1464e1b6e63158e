package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockJobHandler is a mock implementation of a job handler
type MockJobHandler struct {
	mock.Mock
}

func (m *MockJobHandler) Handle(ctx context.Context, job Job) (interface{}, error) {
	args := m.Called(ctx, job)
	return args.Get(0), args.Error(1)
}

// TestJob represents a simple job payload for testing
type TestJob struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, QueueCommissionIngest, TestJob{ID: "test-123", Message: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	job, err := q.Dequeue(ctx, QueueCommissionIngest)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.Equal(t, DefaultRetryCount, job.MaxRetries)

	var payload TestJob
	require.NoError(t, JobPayload(job.Payload, &payload))
	assert.Equal(t, "test-123", payload.ID)
	assert.Equal(t, "hello", payload.Message)

	empty, err := q.Dequeue(ctx, QueueCommissionIngest)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestDelayedJobWaits(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, QueueCommissionIngest, TestJob{ID: "later"}, WithDelay(time.Hour))
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, QueueCommissionIngest)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Equal(t, int64(1), q.Stats(QueueCommissionIngest).Delayed)
}

func TestFailRetriesThenParks(t *testing.T) {
	q := NewMemoryQueue()
	q.backoff = func(int) time.Duration { return 0 }
	ctx := context.Background()

	id, err := q.Enqueue(ctx, QueueCommissionIngest, TestJob{ID: "flaky"}, WithMaxRetry(1))
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, QueueCommissionIngest)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job, errors.New("boom")))
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)

	job, err = q.Dequeue(ctx, QueueCommissionIngest)
	require.NoError(t, err)
	require.NotNil(t, job, "retried job becomes ready again")
	require.NoError(t, q.Fail(ctx, job, errors.New("boom again")))

	stored, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, "boom again", stored.Error)
	assert.Equal(t, int64(1), q.Stats(QueueCommissionIngest).Failed)
}

func TestProcessJobCompletes(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	handler := new(MockJobHandler)
	handler.On("Handle", mock.Anything, mock.MatchedBy(func(j Job) bool { return j.Queue == QueueCommissionIngest })).
		Return("ok", nil).Once()

	p := NewJobProcessor(q, 1, testLogger())
	p.RegisterHandler(QueueCommissionIngest, handler.Handle)

	id, err := q.Enqueue(ctx, QueueCommissionIngest, TestJob{ID: "1"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, QueueCommissionIngest)
	require.NoError(t, err)

	require.NoError(t, p.ProcessJob(job))
	handler.AssertExpectations(t)

	stored, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, JobStatusCompleted, stored.Status)
	assert.False(t, p.IsProcessing(id))
}

func TestProcessJobFailureSchedulesRetry(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	handler := new(MockJobHandler)
	handler.On("Handle", mock.Anything, mock.Anything).Return(nil, errors.New("database unavailable"))

	p := NewJobProcessor(q, 1, testLogger())
	p.RegisterHandler(QueueCommissionIngest, handler.Handle)

	id, err := q.Enqueue(ctx, QueueCommissionIngest, TestJob{ID: "2"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, QueueCommissionIngest)
	require.NoError(t, err)

	err = p.ProcessJob(job)
	assert.ErrorContains(t, err, "database unavailable")

	stored, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, JobStatusPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, int64(1), q.Stats(QueueCommissionIngest).Delayed)
}

func TestProcessJobWithoutHandlerFailsForGood(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	p := NewJobProcessor(q, 1, testLogger())

	id, err := q.Enqueue(ctx, "unknown", TestJob{ID: "3"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, "unknown")
	require.NoError(t, err)

	assert.Error(t, p.ProcessJob(job))
	stored, _ := q.Get(id)
	assert.Equal(t, JobStatusFailed, stored.Status)
}

func TestProcessorRunsWorkers(t *testing.T) {
	q := NewMemoryQueue()
	done := make(chan string, 1)

	p := NewJobProcessor(q, 2, testLogger())
	p.RegisterHandler(QueueCommissionIngest, func(ctx context.Context, job Job) (interface{}, error) {
		done <- job.ID
		return nil, nil
	})
	p.Start()
	defer p.Stop()

	id, err := q.Enqueue(context.Background(), QueueCommissionIngest, TestJob{ID: "4"})
	require.NoError(t, err)

	select {
	case got := <-done:
		assert.Equal(t, id, got)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
}

func TestCalculateBackoff(t *testing.T) {
	for retry := 0; retry < 12; retry++ {
		d := calculateBackoff(retry)
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.LessOrEqual(t, d, 72*time.Minute)
	}
	assert.Less(t, calculateBackoff(0), calculateBackoff(6))
}
