package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/revaspay/commissions/internal/models"
	"github.com/revaspay/commissions/internal/queue"
	"github.com/revaspay/commissions/internal/services/ledger"
	"github.com/shopspring/decimal"
)

// IngestPayload is the queued form of a commission ingestion request
type IngestPayload struct {
	Type         models.CommissionType  `json:"type"`
	SourceRef    string                 `json:"source_ref"`
	UserID       string                 `json:"user_id"`
	BaseAmount   decimal.Decimal        `json:"base_amount"`
	VolumeAmount decimal.NullDecimal    `json:"volume_amount"`
	Currency     models.Currency        `json:"currency,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// IngestResult is what a processed ingestion job returns
type IngestResult struct {
	CommissionID string                  `json:"commission_id,omitempty"`
	Status       models.CommissionStatus `json:"status,omitempty"`
	Created      bool                    `json:"created"`
	Rejected     string                  `json:"rejected,omitempty"`
}

// Ingester records commissions
type Ingester interface {
	Ingest(ctx context.Context, input ledger.IngestInput) (*models.Commission, bool, error)
}

// IngestJob moves commission ingestion off the request path
type IngestJob struct {
	queue    queue.Queue
	ingester Ingester
	logger   *slog.Logger
}

// NewIngestJob creates a new ingestion job handler
func NewIngestJob(q queue.Queue, ingester Ingester, logger *slog.Logger) *IngestJob {
	return &IngestJob{queue: q, ingester: ingester, logger: logger}
}

// Enqueue queues an ingestion request and returns the job id
func (j *IngestJob) Enqueue(ctx context.Context, payload IngestPayload) (string, error) {
	id, err := j.queue.Enqueue(ctx, queue.QueueCommissionIngest, payload)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue commission ingestion: %w", err)
	}
	j.logger.Debug("commission ingestion queued", "job_id", id, "type", payload.Type, "source_ref", payload.SourceRef)
	return id, nil
}

// Handle processes one queued ingestion. Invalid requests are rejected
// without a retry; anything else is returned so the queue retries it.
// Ingestion is idempotent on (type, source_ref), so a retry after a partial
// failure cannot double count.
func (j *IngestJob) Handle(ctx context.Context, job queue.Job) (interface{}, error) {
	var payload IngestPayload
	if err := queue.JobPayload(job.Payload, &payload); err != nil {
		j.logger.Error("dropping malformed ingestion job", "job_id", job.ID, "error", err)
		return IngestResult{Rejected: err.Error()}, nil
	}

	c, created, err := j.ingester.Ingest(ctx, ledger.IngestInput{
		Type:         payload.Type,
		SourceRef:    payload.SourceRef,
		UserID:       payload.UserID,
		BaseAmount:   payload.BaseAmount,
		VolumeAmount: payload.VolumeAmount,
		Currency:     payload.Currency,
		OccurredAt:   payload.OccurredAt,
		Metadata:     payload.Metadata,
	})
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			j.logger.Warn("rejected queued commission", "job_id", job.ID, "source_ref", payload.SourceRef, "error", err)
			return IngestResult{Rejected: err.Error()}, nil
		}
		return nil, err
	}

	return IngestResult{CommissionID: c.ID.String(), Status: c.Status, Created: created}, nil
}
