package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	ch    *amqp.Channel
	queue string
}

// NewConsumer declares a durable queue bound to Exchange for each routing
// pattern, e.g. "hold.*".
func NewConsumer(conn *amqp.Connection, queue string, patterns ...string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "declare exchange %s", Exchange)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}
	for _, p := range patterns {
		if err := ch.QueueBind(queue, p, Exchange, false, nil); err != nil {
			return nil, errors.Wrapf(err, "bind %s to %s", queue, p)
		}
	}
	if err := ch.Qos(16, 0, false); err != nil {
		return nil, errors.Wrap(err, "set qos")
	}
	return &Consumer{ch: ch, queue: queue}, nil
}

// Consume starts delivery with manual acks. The channel closes when ctx is done.
func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	return deliveries, errors.Wrapf(err, "consume %s", c.queue)
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
