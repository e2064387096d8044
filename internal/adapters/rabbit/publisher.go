package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange carries every hold lifecycle event, routed by event type.
const Exchange = "bunks.events"

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "declare exchange %s", Exchange)
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	msg.DeliveryMode = amqp.Persistent
	return errors.Wrapf(p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg), "publish %s", key)
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
