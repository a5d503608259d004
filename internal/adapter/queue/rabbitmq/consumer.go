package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/texthub/text-processing/internal/adapter/observability"
	"github.com/texthub/text-processing/internal/domain"
)

// Routine processes the body of a single task message. A returned error
// wrapping domain.ErrDeterministic discards the message; any other error
// requeues it.
type Routine func(ctx context.Context, taskID string, body []byte) error

// ConsumerOptions tune the worker pool and delivery handling. Zero
// values resolve to sensible defaults in NewConsumer.
type ConsumerOptions struct {
	// WorkersNum is the pool size. Defaults to max(1, NumCPU-1).
	WorkersNum int
	// PrefetchCount caps unacked deliveries per channel. Defaults to
	// twice the pool size.
	PrefetchCount int
	// MaxRedeliveries discards a message once the broker has delivered
	// it more than this many times. Zero means unbounded.
	MaxRedeliveries int
	// GracefulShutdown installs SIGINT/SIGTERM handlers that stop the
	// run loop.
	GracefulShutdown bool
}

type job struct {
	ctx    context.Context
	taskID string
	body   []byte
	done   chan error
}

// Consumer pulls task messages off the queue and runs them through a
// bounded worker pool. Lifecycle: Startup, Run (blocking), Shutdown.
type Consumer struct {
	topo    Topology
	opts    ConsumerOptions
	routine Routine
	logger  *slog.Logger

	// onDiscard is invoked when a message is dropped for exceeding the
	// redelivery limit, before it is rejected.
	onDiscard func(ctx context.Context, taskID string)

	conn        *amqp.Connection
	ch          *amqp.Channel
	consumerTag string

	jobs     chan job
	sem      chan struct{}
	handlers sync.WaitGroup
	pool     sync.WaitGroup

	shutdownCh chan struct{}
	stopOnce   sync.Once
	sigCh      chan os.Signal

	mu      sync.Mutex
	started bool
	running bool
	stopped bool
}

// NewConsumer builds a consumer running routine for every delivery.
func NewConsumer(topo Topology, opts ConsumerOptions, routine Routine, logger *slog.Logger) *Consumer {
	if opts.WorkersNum <= 0 {
		opts.WorkersNum = runtime.NumCPU() - 1
		if opts.WorkersNum < 1 {
			opts.WorkersNum = 1
		}
	}
	if opts.PrefetchCount <= 0 {
		opts.PrefetchCount = 2 * opts.WorkersNum
	}
	return &Consumer{
		topo:       topo,
		opts:       opts,
		routine:    routine,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// OnDiscard registers a callback fired when a message is dropped for
// exceeding the redelivery limit. Must be called before Startup.
func (c *Consumer) OnDiscard(fn func(ctx context.Context, taskID string)) {
	c.onDiscard = fn
}

// Startup connects to the broker, declares the topology, applies QoS and
// starts the worker pool. Calling it twice is an error.
func (c *Consumer) Startup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("op=consumer.startup: consumer already started")
	}
	conn, err := dial(c.topo.URL, c.logger)
	if err != nil {
		return fmt.Errorf("op=consumer.startup: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("op=consumer.startup: open channel: %w", err)
	}
	if err := ch.Qos(c.opts.PrefetchCount, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("op=consumer.startup: set qos: %w", err)
	}
	if err := declareTopology(ch, c.topo); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("op=consumer.startup: %w", err)
	}
	c.conn = conn
	c.ch = ch
	c.startPool()
	if c.opts.GracefulShutdown {
		c.sigCh = make(chan os.Signal, 1)
		signal.Notify(c.sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			select {
			case sig := <-c.sigCh:
				c.logger.Info("signal received, stopping consumer", slog.String("signal", sig.String()))
				c.Stop()
			case <-c.shutdownCh:
			}
		}()
	}
	c.started = true
	c.logger.Info("consumer started",
		slog.String("queue", c.topo.Queue),
		slog.Int("workers", c.opts.WorkersNum),
		slog.Int("prefetch", c.opts.PrefetchCount))
	return nil
}

// startPool creates the job and permit channels and launches the
// workers. The permit channel holds one slot more than the pool so a
// single extra delivery can wait at the pool's door.
func (c *Consumer) startPool() {
	c.jobs = make(chan job)
	c.sem = make(chan struct{}, c.opts.WorkersNum+1)
	for i := 0; i < c.opts.WorkersNum; i++ {
		c.pool.Add(1)
		go c.worker()
	}
}

func (c *Consumer) worker() {
	defer c.pool.Done()
	for j := range c.jobs {
		observability.WorkersBusy.Inc()
		j.done <- c.runRoutine(j)
		observability.WorkersBusy.Dec()
	}
}

// runRoutine shields the pool from a panicking routine: the panic is
// surfaced as a transient error so the delivery is requeued.
func (c *Consumer) runRoutine(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("routine panic: %v", r)
		}
	}()
	return c.routine(j.ctx, j.taskID, j.body)
}

// Run consumes deliveries until the context is cancelled, Stop is called
// or the delivery stream breaks. Each delivery is handled on its own
// goroutine, bounded by the permit channel. A consumer runs at most
// once; a second call is an error.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return errors.New("op=consumer.run: consumer is not running")
	}
	if c.running {
		c.mu.Unlock()
		return errors.New("op=consumer.run: consumer already running")
	}
	c.running = true
	c.consumerTag = "task-processor-" + uuid.NewString()
	c.mu.Unlock()

	deliveries, err := c.ch.Consume(c.topo.Queue, c.consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("op=consumer.run: start consume: %w", err)
	}
	c.logger.Info("consuming", slog.String("consumer_tag", c.consumerTag))

	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return nil
		case <-c.shutdownCh:
			return nil
		case d, ok := <-deliveries:
			if !ok {
				select {
				case <-c.shutdownCh:
					return nil
				default:
					return errors.New("op=consumer.run: delivery stream closed")
				}
			}
			c.handlers.Add(1)
			// In-flight handlers must survive shutdown, so detach from
			// the run context's cancellation.
			go c.handleDelivery(context.WithoutCancel(ctx), d)
		}
	}
}

// handleDelivery dispatches one delivery to the pool and settles it:
// ack on success, discard on deterministic failure, requeue otherwise.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	defer c.handlers.Done()

	taskID := d.MessageId
	logger := c.logger.With(slog.String("task_id", taskID))
	if taskID == "" {
		logger.Error("message rejected: message_id must be a non-empty string")
		if err := d.Reject(false); err != nil {
			logger.Error("reject failed", slog.Any("error", err))
		}
		return
	}
	if d.Redelivered {
		observability.QueueRedeliveriesTotal.Inc()
	}
	if max := c.opts.MaxRedeliveries; max > 0 {
		if n, ok := deliveryCount(d.Headers); ok && n > int64(max) {
			logger.Error("message discarded: redelivery limit exceeded", slog.Int64("delivery_count", n))
			if c.onDiscard != nil {
				c.onDiscard(ctx, taskID)
			}
			if err := d.Reject(false); err != nil {
				logger.Error("reject failed", slog.Any("error", err))
			}
			return
		}
	}

	ctx, span := otel.Tracer("queue.consumer").Start(ctx, "consumer.handle")
	span.SetAttributes(attribute.String("messaging.message.id", taskID))
	defer span.End()

	c.sem <- struct{}{}
	j := job{ctx: ctx, taskID: taskID, body: d.Body, done: make(chan error, 1)}
	c.jobs <- j
	err := <-j.done
	<-c.sem

	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			logger.Error("ack failed", slog.Any("error", ackErr))
			return
		}
		logger.Debug("message acked")
		observability.CompleteTask()
	case errors.Is(err, domain.ErrDeterministic):
		logger.Error("message discarded after deterministic failure", slog.Any("error", err))
		observability.FailTask("deterministic")
		if rejErr := d.Reject(false); rejErr != nil {
			logger.Error("reject failed", slog.Any("error", rejErr))
		}
	default:
		logger.Error("message requeued after transient failure", slog.Any("error", err))
		observability.FailTask("transient")
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Error("nack failed", slog.Any("error", nackErr))
		}
	}
}

// deliveryCount reads the broker-maintained x-delivery-count header
// (quorum queues). Absent or malformed headers report false.
func deliveryCount(h amqp.Table) (int64, bool) {
	v, ok := h["x-delivery-count"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// Stop asks the run loop to exit. Idempotent and safe from any
// goroutine; the actual teardown happens in Shutdown.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.shutdownCh) })
}

// Shutdown drains the consumer: cancel the subscription, wait for
// in-flight handlers, stop the pool, then close channel and connection.
// Failures along the way are collected, not fatal, so the sequence runs
// to the end. Calling it twice is an error.
func (c *Consumer) Shutdown() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return errors.New("op=consumer.shutdown: consumer was never started")
	}
	if c.stopped {
		c.mu.Unlock()
		return errors.New("op=consumer.shutdown: consumer already stopped")
	}
	c.stopped = true
	tag := c.consumerTag
	c.mu.Unlock()

	c.Stop()

	var errs []error
	if tag != "" {
		if err := c.ch.Cancel(tag, false); err != nil {
			c.logger.Error("cancel subscription failed", slog.Any("error", err))
			errs = append(errs, fmt.Errorf("cancel subscription: %w", err))
		}
	}
	c.logger.Info("waiting for in-flight handlers")
	c.handlers.Wait()
	close(c.jobs)
	c.pool.Wait()
	if c.sigCh != nil {
		signal.Stop(c.sigCh)
	}
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	c.logger.Info("consumer stopped")
	if len(errs) > 0 {
		return fmt.Errorf("op=consumer.shutdown: %w", errors.Join(errs...))
	}
	return nil
}
