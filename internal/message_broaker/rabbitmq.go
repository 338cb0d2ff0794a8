package message_broaker

import (
	"context"
	"time"

	"github.com/RezaEskandarii/ticketfire/types"
	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 2 * time.Second

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    amqpChannel
	exchange   string
	routingKey string
}

// NewRabbitMQ dials the broker and declares a durable direct exchange with one bound queue, so
// events published before any consumer attaches are kept.
func NewRabbitMQ(url, exchange, queue, routingKey string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := ch.QueueBind(
		queue,
		routingKey,
		exchange,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, event types.TaskEvent) error {
	body, err := encodeEvent(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Timestamp:    event.At,
			Type:         string(event.Type),
			MessageId:    event.TaskID,
			Body:         body,
		},
	)
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return err
	}
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
