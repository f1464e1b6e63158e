package jobs

import (
	"log/slog"

	"github.com/revaspay/commissions/internal/queue"
)

// RegisterAllJobHandlers registers all job handlers with the processor and
// returns the ingestion job so handlers can enqueue with it
func RegisterAllJobHandlers(
	p *queue.JobProcessor,
	q queue.Queue,
	ingester Ingester,
	logger *slog.Logger,
) *IngestJob {
	ingest := NewIngestJob(q, ingester, logger)
	p.RegisterHandler(queue.QueueCommissionIngest, ingest.Handle)
	return ingest
}
