// Package rabbitmq provides the AMQP 0-9-1 producer and consumer used to
// move task messages between the ingress and the worker service.
//
// Both sides declare the same durable topology (direct exchange, durable
// queue, fixed binding) so either service can start first.
package rabbitmq

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology names the broker primitives both services agree on.
type Topology struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
}

// dial connects to the broker, retrying with exponential backoff so a
// service starting before the broker does not crash-loop.
func dial(url string, logger *slog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	op := func() error {
		c, err := amqp.Dial(url)
		if err != nil {
			logger.Warn("broker dial failed, retrying", slog.Any("error", err))
			return err
		}
		conn = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Minute
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	return conn, nil
}

// declareTopology declares the durable exchange and queue and binds them.
// Idempotent: redeclaration with identical parameters is a no-op.
func declareTopology(ch *amqp.Channel, t Topology) error {
	if err := ch.ExchangeDeclare(
		t.Exchange,
		amqp.ExchangeDirect,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	if _, err := ch.QueueDeclare(
		t.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	return nil
}
