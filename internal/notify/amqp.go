package notify

import (
	"context"
	"fmt"
	"time"

	"fieldbook/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSender publishes persistent messages to a durable queue on the default exchange.
type AMQPSender struct {
	conn    *amqp.Connection
	channel amqpPublisher
	queue   string
	now     func() time.Time
}

func NewAMQPSender(cfg config.AMQPConfig) (*AMQPSender, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	return &AMQPSender{conn: conn, channel: ch, queue: cfg.Queue, now: time.Now}, nil
}

func (s *AMQPSender) Name() string { return "amqp" }

func (s *AMQPSender) Send(ctx context.Context, event string, payload []byte) error {
	return s.channel.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    s.now(),
		Type:         event,
		Body:         payload,
	})
}

func (s *AMQPSender) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
