package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPQueue publishes to a durable topic exchange, routing by message type,
// and consumes from a durable queue bound to the given types.
type AMQPQueue struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
}

// NewAMQPQueue dials url and declares exchange, queue and bindings.
func NewAMQPQueue(url, exchange, queue string, types []string) (*AMQPQueue, error) {
	if queue == "" {
		queue = DefaultKey
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q := &AMQPQueue{conn: conn, ch: ch, exchange: exchange, queue: queue}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, typ := range types {
		if err := ch.QueueBind(queue, typ, exchange, false, nil); err != nil {
			_ = q.Close()
			return nil, fmt.Errorf("bind %s: %w", typ, err)
		}
	}
	return q, nil
}

// Publish sends a persistent message routed by its type.
func (q *AMQPQueue) Publish(ctx context.Context, msg Message) error {
	return q.ch.PublishWithContext(ctx, q.exchange, msg.Type, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Type:         msg.Type,
		Body:         msg.Body,
	})
}

// Consume acknowledges each delivery once it has been handed to the reader.
func (q *AMQPQueue) Consume(ctx context.Context) (<-chan Message, error) {
	deliveries, err := q.ch.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.queue, err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				typ := d.Type
				if typ == "" {
					typ = d.RoutingKey
				}
				select {
				case out <- Message{Type: typ, Body: d.Body}:
					_ = d.Ack(false)
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (q *AMQPQueue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
