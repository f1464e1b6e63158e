package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// JobProcessor processes jobs from queues
type JobProcessor struct {
	queue          Queue
	logger         *slog.Logger
	handlers       map[string]JobHandler
	workerCount    int
	wg             sync.WaitGroup
	processingJobs sync.Map
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewJobProcessor creates a new JobProcessor
func NewJobProcessor(queue Queue, workerCount int, logger *slog.Logger) *JobProcessor {
	if workerCount < 1 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobProcessor{
		queue:       queue,
		logger:      logger,
		handlers:    make(map[string]JobHandler),
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// RegisterHandler registers a handler for a specific queue
func (p *JobProcessor) RegisterHandler(queueName string, handler JobHandler) {
	p.handlers[queueName] = handler
}

// Start starts the job processor
func (p *JobProcessor) Start() {
	p.logger.Info("starting job processor", "workers", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops the job processor and waits for in-flight jobs
func (p *JobProcessor) Stop() {
	p.logger.Info("stopping job processor")
	p.cancel()
	p.wg.Wait()
	p.logger.Info("job processor stopped")
}

// worker is a goroutine that processes jobs
func (p *JobProcessor) worker(id int) {
	defer p.wg.Done()

	queues := make([]string, 0, len(p.handlers))
	for queue := range p.handlers {
		queues = append(queues, queue)
	}
	sort.Strings(queues)

	if len(queues) == 0 {
		p.logger.Warn("worker exiting: no queues registered", "worker", id)
		return
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		for _, queueName := range queues {
			job, err := p.queue.Dequeue(p.ctx, queueName)
			if err != nil {
				if p.ctx.Err() != nil {
					return
				}
				p.logger.Error("error getting job from queue", "worker", id, "queue", queueName, "error", err)
				time.Sleep(time.Second)
				continue
			}
			if job == nil {
				continue
			}

			p.processingJobs.Store(job.ID, true)
			if err := p.ProcessJob(job); err != nil {
				p.logger.Warn("job failed", "worker", id, "queue", queueName, "job_id", job.ID, "retry", job.RetryCount, "error", err)
			}
			p.processingJobs.Delete(job.ID)
		}
	}
}

// ProcessJob runs the handler of one job and records the outcome
func (p *JobProcessor) ProcessJob(job *Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}

	handler, ok := p.handlers[job.Queue]
	if !ok {
		err := fmt.Errorf("no handler registered for queue: %s", job.Queue)
		job.MaxRetries = job.RetryCount
		if failErr := p.queue.Fail(p.ctx, job, err); failErr != nil {
			p.logger.Error("failed to record job failure", "job_id", job.ID, "error", failErr)
		}
		return err
	}

	if _, err := handler(p.ctx, *job); err != nil {
		if failErr := p.queue.Fail(p.ctx, job, err); failErr != nil {
			p.logger.Error("failed to record job failure", "job_id", job.ID, "error", failErr)
		}
		return fmt.Errorf("job processing failed: %w", err)
	}

	if err := p.queue.Complete(p.ctx, job); err != nil {
		p.logger.Error("failed to record job completion", "job_id", job.ID, "error", err)
	}
	return nil
}

// IsProcessing checks if a job is currently being processed
func (p *JobProcessor) IsProcessing(jobID string) bool {
	_, ok := p.processingJobs.Load(jobID)
	return ok
}
