// Package outbox relays committed hold events from the ledger's outbox table
// to the message broker. Delivery is at least once; consumers dedupe on the
// message ID.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/bunk-reservations/internal/adapters/crdb"
	"github.com/robertarktes/bunk-reservations/internal/clock"
	"github.com/robertarktes/bunk-reservations/internal/observability"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	store  Store
	broker Broker
	clock  clock.Clock
	logger observability.Logger
	batch  int
}

func NewPublisher(store Store, broker Broker, clk clock.Clock, logger observability.Logger, batch int) *Publisher {
	if batch <= 0 {
		batch = 50
	}
	return &Publisher{store: store, broker: broker, clock: clk, logger: logger, batch: batch}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PublishBatch(ctx)
			if err != nil {
				p.logger.WithError(err).Error("outbox batch failed")
				continue
			}
			if n > 0 {
				p.logger.WithField("published", n).Debug("outbox batch published")
			}
		}
	}
}

// PublishBatch publishes one batch in creation order. It stops at the first
// publish failure so later events never overtake an earlier one; the failed
// record stays NEW and is retried on the next tick.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	published := 0
	err := p.store.WithTx(ctx, func(txCtx context.Context) error {
		published = 0
		records, err := p.store.GetUnpublishedOutbox(txCtx, p.batch)
		if err != nil {
			return err
		}
		var oldest time.Time
		for _, rec := range records {
			msg := amqp.Publishing{
				MessageId:   rec.DedupeKey,
				ContentType: "application/json",
				Timestamp:   rec.CreatedAt,
				Type:        rec.EventType,
				Body:        rec.Payload,
			}
			if err := p.broker.Publish(txCtx, rec.EventType, msg); err != nil {
				observability.RabbitPublishRetries.Inc()
				p.logger.WithField("outbox_id", rec.ID).WithError(err).Warn("publish failed, will retry")
				break
			}
			if err := p.store.MarkPublished(txCtx, rec.ID, p.clock.Now()); err != nil {
				return err
			}
			if oldest.IsZero() {
				oldest = rec.CreatedAt
			}
			published++
		}
		if !oldest.IsZero() {
			observability.OutboxLag.Set(p.clock.Now().Sub(oldest).Seconds())
		}
		return nil
	})
	return published, err
}
