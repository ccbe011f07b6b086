// Package app собирает сервис: хранилище, кэш, Kafka, HTTP и gRPC серверы, фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	healthcheck "github.com/vladislavdragonenkov/grocer/internal/health"
	"github.com/vladislavdragonenkov/grocer/internal/metrics"
	"github.com/vladislavdragonenkov/grocer/internal/notify"
	"github.com/vladislavdragonenkov/grocer/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/grocer/internal/service/grpc"
	"github.com/vladislavdragonenkov/grocer/internal/service/idempotency"
	"github.com/vladislavdragonenkov/grocer/internal/service/ordering"
	"github.com/vladislavdragonenkov/grocer/internal/service/outbox"
	"github.com/vladislavdragonenkov/grocer/internal/service/stories"
	"github.com/vladislavdragonenkov/grocer/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/grocer/internal/version"
)

// Run запускает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)
	if err := seedUsers(ctx, deps.storage, cfg.SeedUsers, logger); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	shopMetrics := metrics.NewShopMetricsWithRegisterer(registry)
	workerMetrics := metrics.NewWorkerMetrics(registry)
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := registry.Register(grpcMetrics); err != nil {
		return fmt.Errorf("register grpc metrics: %w", err)
	}
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	hub := notify.NewHub(notify.DefaultBufferSize, shopMetrics, logger.WithField("component", "notify-hub"))
	msg := initMessaging(cfg, hub, shopMetrics, logger)
	defer msg.close(logger)
	notifier := msg.notifier(hub)

	catalogSvc := catalog.NewService(deps.storage,
		catalog.WithLogger(logger.WithField("component", "catalog")),
		catalog.WithNotifier(notifier),
		catalog.WithCache(deps.catalogCache),
		catalog.WithMetrics(shopMetrics),
	)
	orderManager := ordering.NewManager(deps.storage, catalogSvc,
		ordering.WithLogger(logger.WithField("component", "ordering")),
		ordering.WithNotifier(notifier),
		ordering.WithMetrics(shopMetrics),
	)
	storySvc := stories.NewService(deps.storage,
		stories.WithLogger(logger.WithField("component", "stories")),
		stories.WithNotifier(notifier),
		stories.WithMetrics(shopMetrics),
	)

	healthHandler := newHealthHandler(deps, msg)

	router := httpapi.NewRouter(httpapi.Config{
		Catalog:        catalogSvc,
		Orders:         orderManager,
		Stories:        storySvc,
		Hub:            hub,
		Idempotency:    idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("component", "idempotency")),
		Health:         healthHandler,
		Metrics:        metrics.NewHTTPMetrics(registry),
		MetricsHandler: metricsHandler,
		Logger:         logger.WithField("component", "http-api"),
	})
	grpcServer := grpcsvc.NewServer(
		grpcsvc.NewAdminService(orderManager, catalogSvc, logger.WithField("component", "grpc-admin")),
		grpcMetrics,
	)

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpListener.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	var workers sync.WaitGroup
	startWorkers(workerCtx, &workers, cfg, deps, msg, workerMetrics, logger)

	metricsSrv := startMetricsServer(cfg.MetricsAddr, logger, metricsHandler, healthHandler)
	httpSrv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		logger.WithField("addr", httpListener.Addr().String()).Info("http api listening")
		if err := httpSrv.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.WithField("addr", grpcListener.Addr().String()).Info("grpc admin server listening")
		if err := grpcServer.GRPC.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("server failed, shutting down")
	}

	// Закрытие хаба завершает открытые SSE-потоки, иначе Shutdown ждёт их до таймаута.
	hub.Close()
	grpcServer.MarkNotServing()
	shutdownHTTP(httpSrv, cfg.ShutdownTimeout, logger)
	stopGRPC(grpcServer.GRPC, cfg.ShutdownTimeout, logger)
	shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)

	cancelWorkers()
	workers.Wait()
	return runErr
}

func newHealthHandler(deps *runtimeDependencies, msg *messaging) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.Current().Version)
	if deps.storageChecker != nil {
		handler.RegisterChecker("storage", deps.storageChecker)
	}
	if deps.cacheChecker != nil {
		handler.RegisterChecker("cache", deps.cacheChecker)
	}
	if msg.producer != nil {
		handler.RegisterChecker("kafka", healthcheck.NewOptionalChecker("kafka", msg.producer.Ping))
	}
	return handler
}

// startWorkers запускает relay, outbox-воркер (только с Kafka) и очистку ключей идемпотентности.
func startWorkers(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg Config,
	deps *runtimeDependencies,
	msg *messaging,
	workerMetrics *metrics.WorkerMetrics,
	logger *log.Entry,
) {
	msg.start(ctx, logger)

	if msg.publisher != nil {
		worker := outbox.NewWorker(deps.outboxRepo, msg.publisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithMetrics(workerMetrics),
			outbox.WithDeadLetters(msg.publisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryBaseDelay),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(workerMetrics),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(ctx)
	}()
}

// stopGRPC дожидается GracefulStop не дольше timeout, затем останавливает сервер принудительно.
func stopGRPC(srv *grpc.Server, timeout time.Duration, logger *log.Entry) {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("grpc graceful stop timed out, forcing stop")
		srv.Stop()
	}
}
