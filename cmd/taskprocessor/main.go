// Command taskprocessor starts the worker service consuming task
// messages from the broker and writing results to the task store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/texthub/text-processing/internal/adapter/observability"
	"github.com/texthub/text-processing/internal/adapter/queue/rabbitmq"
	"github.com/texthub/text-processing/internal/adapter/repo/postgres"
	"github.com/texthub/text-processing/internal/config"
	"github.com/texthub/text-processing/internal/domain"
	"github.com/texthub/text-processing/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("task processor exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadTaskProcessor()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger := observability.SetupLogger(cfg.AppName, cfg.Shared)
	slog.SetDefault(logger)

	// Expose worker metrics on a dedicated port for scraping.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.MetricsPort), mux); err != nil {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg.AppName, cfg.Shared)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBPath, cfg.DBEngineEcho)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("schema bootstrap: %w", err)
	}
	taskRepo := postgres.NewTaskRepo(pool)

	routine := worker.New(taskRepo, logger)
	consumer := rabbitmq.NewConsumer(
		rabbitmq.Topology{
			URL:        cfg.AMQPURL(),
			Exchange:   cfg.RabbitMQExchange,
			Queue:      cfg.RabbitMQQueue,
			RoutingKey: cfg.RabbitMQRoutingKey,
		},
		rabbitmq.ConsumerOptions{
			WorkersNum:       cfg.ConsumerWorkersNum,
			PrefetchCount:    cfg.ConsumerPrefetchCount,
			MaxRedeliveries:  cfg.ConsumerMaxRedeliveries,
			GracefulShutdown: cfg.GracefulShutdown,
		},
		routine.Handle,
		logger,
	)
	// Messages dropped at the redelivery limit still get a terminal row.
	consumer.OnDiscard(func(ctx context.Context, taskID string) {
		id, err := domain.ParseTaskID(taskID)
		if err != nil {
			return
		}
		patch := domain.PatchStatus(domain.StatusFailedFinal, "redelivery limit exceeded")
		if err := taskRepo.Upsert(ctx, id, patch); err != nil {
			slog.Error("failed to record discarded task", slog.String("task_id", taskID), slog.Any("error", err))
		}
	})

	if err := consumer.Startup(ctx); err != nil {
		return fmt.Errorf("consumer startup: %w", err)
	}

	slog.Info("task processor started")
	if err := consumer.Run(ctx); err != nil {
		slog.Error("consumer stopped with error", slog.Any("error", err))
	}
	if err := consumer.Shutdown(); err != nil {
		slog.Error("consumer shutdown failed", slog.Any("error", err))
	}
	slog.Info("task processor stopped")
	return nil
}
