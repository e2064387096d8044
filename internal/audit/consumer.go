// Package audit consumes hold lifecycle events from the broker and records
// them in the audit trail.
package audit

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/bunk-reservations/internal/domain"
	"github.com/robertarktes/bunk-reservations/internal/observability"
)

type Recorder interface {
	RecordHoldEvent(ctx context.Context, p domain.HoldEventPayload) error
}

// Acknowledger is the subset of amqp.Delivery the consumer settles messages with.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type Consumer struct {
	recorder Recorder
	logger   observability.Logger
}

func NewConsumer(recorder Recorder, logger observability.Logger) *Consumer {
	return &Consumer{recorder: recorder, logger: logger}
}

// Run handles deliveries until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed")
				return
			}
			c.Handle(ctx, d.Body, &d)
		}
	}
}

// Handle records one message. Undecodable messages are dropped; recording
// failures are requeued.
func (c *Consumer) Handle(ctx context.Context, body []byte, ack Acknowledger) {
	payload, err := decode(body)
	if err != nil {
		c.logger.WithError(err).Error("dropping malformed hold event")
		_ = ack.Nack(false, false)
		return
	}
	log := c.logger.WithField("event_id", payload.EventID).WithField("type", payload.Type)
	if err := c.recorder.RecordHoldEvent(ctx, payload); err != nil {
		log.WithError(err).Warn("failed to record hold event, requeueing")
		_ = ack.Nack(false, true)
		return
	}
	_ = ack.Ack(false)
	log.Debug("hold event recorded")
}

func decode(body []byte) (domain.HoldEventPayload, error) {
	var p domain.HoldEventPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return p, errors.Wrap(err, "decode hold event")
	}
	switch p.Type {
	case domain.EventHoldCreated, domain.EventHoldConfirmed, domain.EventHoldCancelled, domain.EventHoldExpired:
	default:
		return p, errors.Newf("unknown event type %q", p.Type)
	}
	if p.EventID == uuid.Nil {
		return p, errors.New("event id is missing")
	}
	return p, nil
}
