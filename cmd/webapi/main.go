// Command webapi starts the text-processing ingress HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/texthub/text-processing/internal/adapter/httpserver"
	"github.com/texthub/text-processing/internal/adapter/observability"
	"github.com/texthub/text-processing/internal/adapter/queue/rabbitmq"
	"github.com/texthub/text-processing/internal/adapter/repo/postgres"
	"github.com/texthub/text-processing/internal/app"
	"github.com/texthub/text-processing/internal/config"
	"github.com/texthub/text-processing/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("webapi exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWebAPI()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger := observability.SetupLogger(cfg.AppName, cfg.Shared)
	slog.SetDefault(logger)
	observability.InitMetrics()

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

	producer := rabbitmq.NewProducer(
		rabbitmq.Topology{
			URL:        cfg.AMQPURL(),
			Exchange:   cfg.RabbitMQExchange,
			Queue:      cfg.RabbitMQQueue,
			RoutingKey: cfg.RabbitMQRoutingKey,
		},
		rabbitmq.ProducerOptions{
			AppID:             cfg.AppName,
			Persistent:        cfg.ProducerPersistent,
			PublisherConfirms: cfg.ProducerPublisherConfirms,
		},
		logger,
	)
	if err := producer.Startup(ctx); err != nil {
		return fmt.Errorf("producer startup: %w", err)
	}
	defer func() {
		if err := producer.Shutdown(); err != nil {
			slog.Error("producer shutdown failed", slog.Any("error", err))
		}
	}()

	processSvc := usecase.NewProcessTextService(taskRepo, producer, logger)
	resultSvc := usecase.NewResultService(taskRepo, logger)

	dbCheck, queueCheck := app.BuildReadinessChecks(pool, producer)
	srv := httpserver.NewServer(cfg, processSvc, resultSvc, dbCheck, queueCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.WebAPIHost, cfg.WebAPIPort),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting",
			slog.String("host", cfg.WebAPIHost),
			slog.Int("port", cfg.WebAPIPort))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	return nil
}
