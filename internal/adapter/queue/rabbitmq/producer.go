package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/texthub/text-processing/internal/domain"
)

// publishFunc is the seam between Send and the live channel. It reports
// whether the broker positively acknowledged the message.
type publishFunc func(ctx context.Context, pub amqp.Publishing) (acked bool, err error)

// ProducerOptions control message durability and delivery guarantees.
type ProducerOptions struct {
	// AppID is stamped on every message for traceability.
	AppID string
	// Persistent marks messages to survive a broker restart.
	Persistent bool
	// PublisherConfirms makes Send wait for a broker ack before returning.
	PublisherConfirms bool
}

// Producer publishes task messages to the exchange. It must be started
// before use and shut down exactly once.
type Producer struct {
	topo   Topology
	opts   ProducerOptions
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	conn    *amqp.Connection
	ch      *amqp.Channel
	publish publishFunc
}

// NewProducer builds a producer for the given topology. Call Startup
// before Send.
func NewProducer(topo Topology, opts ProducerOptions, logger *slog.Logger) *Producer {
	return &Producer{topo: topo, opts: opts, logger: logger}
}

// Startup dials the broker, declares the topology and, when configured,
// puts the channel into publisher-confirm mode. Calling it twice is an
// error.
func (p *Producer) Startup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("op=producer.startup: producer already started")
	}
	conn, err := dial(p.topo.URL, p.logger)
	if err != nil {
		return fmt.Errorf("op=producer.startup: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("op=producer.startup: open channel: %w", err)
	}
	if p.opts.PublisherConfirms {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("op=producer.startup: enable confirms: %w", err)
		}
	}
	if err := declareTopology(ch, p.topo); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("op=producer.startup: %w", err)
	}
	p.conn = conn
	p.ch = ch
	p.publish = p.livePublish
	p.started = true
	p.logger.Info("producer started",
		slog.String("exchange", p.topo.Exchange),
		slog.String("routing_key", p.topo.RoutingKey),
		slog.Bool("publisher_confirms", p.opts.PublisherConfirms))
	return nil
}

func (p *Producer) livePublish(ctx context.Context, pub amqp.Publishing) (bool, error) {
	if !p.opts.PublisherConfirms {
		if err := p.ch.PublishWithContext(ctx, p.topo.Exchange, p.topo.RoutingKey, false, false, pub); err != nil {
			return false, err
		}
		return true, nil
	}
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.topo.Exchange, p.topo.RoutingKey, false, false, pub)
	if err != nil {
		return false, err
	}
	return dc.WaitContext(ctx)
}

// Send serializes data to JSON and publishes it with the task ID as the
// message ID. When taskID is nil a fresh ID is generated. The returned
// ID identifies the enqueued task.
func (p *Producer) Send(ctx context.Context, data any, taskID *domain.TaskID) (domain.TaskID, error) {
	p.mu.Lock()
	started, stopped, publish := p.started, p.stopped, p.publish
	p.mu.Unlock()
	if !started || stopped {
		return domain.TaskID{}, errors.New("op=producer.send: producer is not running")
	}

	id := domain.NewTaskID()
	if taskID != nil {
		id = *taskID
	}
	body, err := json.Marshal(data)
	if err != nil {
		return domain.TaskID{}, fmt.Errorf("op=producer.send: marshal payload: %w", err)
	}

	ctx, span := otel.Tracer("queue.producer").Start(ctx, "producer.send")
	span.SetAttributes(attribute.String("messaging.message.id", id.Hex()))
	defer span.End()

	pub := amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		MessageId:   id.Hex(),
		AppId:       p.opts.AppID,
		Timestamp:   time.Now().UTC(),
	}
	if p.opts.Persistent {
		pub.DeliveryMode = amqp.Persistent
	}

	acked, err := publish(ctx, pub)
	if err != nil {
		return domain.TaskID{}, fmt.Errorf("op=producer.send: %w: %v", domain.ErrPublish, err)
	}
	if !acked {
		return domain.TaskID{}, fmt.Errorf("op=producer.send: %w: message was nacked by broker", domain.ErrPublish)
	}
	p.logger.Debug("message published", slog.String("task_id", id.Hex()))
	return id, nil
}

// IsClosed reports whether the broker connection is unusable. Used by
// the readiness probe.
func (p *Producer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.stopped {
		return true
	}
	return p.conn.IsClosed()
}

// Shutdown closes the channel and connection. Calling it before Startup
// or a second time is an error.
func (p *Producer) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return errors.New("op=producer.shutdown: producer was never started")
	}
	if p.stopped {
		return errors.New("op=producer.shutdown: producer already stopped")
	}
	p.stopped = true
	var errs []error
	if err := p.ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if err := p.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	p.logger.Info("producer stopped")
	if len(errs) > 0 {
		return fmt.Errorf("op=producer.shutdown: %w", errors.Join(errs...))
	}
	return nil
}
