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

	"payflow/cmd/server/config"
	"payflow/internal/httpapi"
	"payflow/internal/idempotency"
	"payflow/internal/observability"
	"payflow/internal/payment"
	"payflow/internal/queue"
	"payflow/internal/realtime"
	"payflow/internal/resilience"

	"github.com/joho/godotenv"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	serverCfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	redisCfg, err := config.LoadRedis()
	if err != nil {
		return err
	}
	queueCfg, err := config.LoadQueue()
	if err != nil {
		return err
	}
	idemCfg, err := config.LoadIdempotency()
	if err != nil {
		return err
	}

	client, err := buildRedisClient(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn("close redis", "error", err)
		}
	}()

	metrics := observability.NewMetrics()

	gateway, statuses, cleanupGateway := payment.BuildGateway(ctx, config.LoadPostgres().DSN, func(format string, args ...any) {
		log.Info(fmt.Sprintf(format, args...))
	})
	defer cleanupGateway()

	coord := idempotency.NewCoordinator(idempotency.NewRedisStore(client), idempotency.CoordinatorConfig{
		LockTTL:   idemCfg.LockTTL,
		Retention: idemCfg.Retention,
		Logger:    log,
	})

	breakerDefaults := resilience.DefaultBreakerConfig()
	breakerDefaults.Timeout = 800 * time.Millisecond
	breakerOpts := resilience.LoadBreakerConfig("GATEWAY", breakerDefaults).Options("payment-gateway")
	breakerOpts.Fallback = payment.GatewayFallback
	breakerOpts.OnEvent = func(name string, event resilience.Event) {
		log.Debug("breaker event", "breaker", name, "event", string(event))
		metrics.BreakerEvent(name, string(event))
	}
	breaker := resilience.NewBreaker(breakerOpts)

	jobs := queue.NewRedisQueue(client, queueCfg.Name)
	orchestrator := payment.NewOrchestrator(coord, breaker, gateway, jobs, log)

	hub := realtime.NewHub(log)
	go hub.Run(ctx)

	processor := payment.NewWebhookProcessor(statuses, func(event payment.WebhookEvent) {
		hub.Publish(event.Type, event.Data)
	}, log)

	worker := queue.NewWorker(jobs, queue.WorkerConfig{
		Concurrency: queueCfg.Concurrency,
		MaxAttempts: queueCfg.MaxAttempts,
		Backoff:     queueCfg.Backoff,
		PollTimeout: queueCfg.PollTimeout,
		Logger:      log,
		OnProcessed: metrics.JobProcessed,
		OnBuried:    metrics.JobBuried,
	})
	worker.Handle(payment.JobWebhookProcessing, processor.Process)
	go worker.Run(ctx)

	obsSrv, err := startObservabilityServer(metrics, log)
	if err != nil {
		return err
	}

	handler := httpapi.NewHandler(orchestrator, hub, metrics, log)
	srv := &http.Server{
		Addr:    serverCfg.Addr,
		Handler: handler.Router(),
	}

	log.Info("server listening", "addr", serverCfg.Addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		if obsSrv != nil {
			obsCtx, obsCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer obsCancel()
			_ = obsSrv.Shutdown(obsCtx)
		}
		metrics.MarkShutdown(0)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func startObservabilityServer(metrics *observability.Metrics, log *slog.Logger) (*http.Server, error) {
	cfg, err := config.LoadObservability()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("observability server error", "error", err)
		}
	}()

	return srv, nil
}
