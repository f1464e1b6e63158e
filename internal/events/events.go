// Package events publishes domain events after the ledger or payout batcher
// commits a change.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Routing keys of the commission_events topic exchange
const (
	CommissionCreated       = "commission.created"
	CommissionStatusChanged = "commission.status_changed"
	PayoutCreated           = "payout.created"
	PayoutStatusChanged     = "payout.status_changed"
)

// Event is the envelope every message is wrapped in
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// Publisher is the interface implemented by event publishers.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event Event) error
	Close()
}

// Emitter wraps a Publisher for services. Publishing happens after commit, so
// a broker failure is logged and never fails the operation that caused it.
type Emitter struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewEmitter creates an emitter. A nil publisher logs events only.
func NewEmitter(publisher Publisher, logger *slog.Logger) *Emitter {
	if publisher == nil {
		publisher = NewLogPublisher(logger)
	}
	return &Emitter{publisher: publisher, logger: logger}
}

// Emit publishes data under routingKey
func (e *Emitter) Emit(ctx context.Context, routingKey string, data interface{}) {
	if e == nil {
		return
	}
	event := Event{
		ID:         uuid.NewString(),
		Type:       routingKey,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	if err := e.publisher.Publish(ctx, routingKey, event); err != nil {
		e.logger.Warn("failed to publish domain event", "type", routingKey, "event_id", event.ID, "error", err)
	}
}

// LogPublisher is the fallback used when RabbitMQ is not configured or unreachable.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher that only logs
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, routingKey string, event Event) error {
	p.logger.Debug("domain event", "routing_key", routingKey, "event_id", event.ID)
	return nil
}

func (p *LogPublisher) Close() {}
