package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/florana/mailroom/internal/config"
	"github.com/florana/mailroom/internal/infra/postgresql"
	infraredis "github.com/florana/mailroom/internal/infra/redis"
	"github.com/florana/mailroom/internal/mailconfig"
	"github.com/florana/mailroom/internal/mailer"
	"github.com/florana/mailroom/internal/observability"
	"github.com/florana/mailroom/internal/queue"
	"github.com/florana/mailroom/internal/repository"
	"github.com/florana/mailroom/internal/secrets"
	"github.com/florana/mailroom/internal/service"
)

const metricsShutdownTimeout = 5 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	emailQueue, err := queue.NewRedisQueue(rdb, queue.DefaultQueueName, queue.DefaultRetryPolicy(), queue.DefaultRetention())
	if err != nil {
		logger.Fatal("queue initialization failed", zap.Error(err))
	}

	consumer, err := queue.NewRedisConsumer(emailQueue, consumerID(cfg.WorkerID), logger)
	if err != nil {
		logger.Fatal("queue consumer initialization failed", zap.Error(err))
	}

	box, err := secrets.New(cfg.EncryptionKey)
	if err != nil {
		logger.Fatal("secret box initialization failed", zap.Error(err))
	}

	logRepo := repository.NewGormDeliveryLogRepo(db)
	tenantRepo := repository.NewGormMailConfigRepo(db)
	platformRepo := repository.NewGormPlatformSettingsRepo(db)

	resolver, err := mailconfig.NewResolver(
		tenantRepo,
		platformRepo,
		box,
		mailconfig.DefaultCacheTTL,
		mailconfig.EnvFallback{
			EmailServer: cfg.EmailServer,
			EmailFrom:   cfg.EmailFrom,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("credential resolver initialization failed", zap.Error(err))
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	workerService, err := service.NewWorkerService(
		logRepo,
		resolver,
		consumer,
		mailer.NewSMTPMailer(),
		rateLimiter,
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}

	retryScanner, err := service.NewRetryScanner(emailQueue, 0, 0, logger)
	if err != nil {
		logger.Fatal("retry scanner initialization failed", zap.Error(err))
	}

	janitor, err := service.NewJanitor(emailQueue, 0, logger)
	if err != nil {
		logger.Fatal("janitor initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	workerService.SetMetrics(metrics)
	retryScanner.SetMetrics(metrics)
	janitor.SetMetrics(metrics)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		logger.Info("worker metrics server started", zap.Int("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("mailroom worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.String("queue", queue.DefaultQueueName),
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return workerService.Start(groupCtx) })
	g.Go(func() error { return retryScanner.Start(groupCtx) })
	g.Go(func() error { return janitor.Start(groupCtx) })

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}

	logger.Info("mailroom worker stopped")
}

// consumerID must be stable across restarts so the processing list of a
// crashed run can be drained back onto the ready list.
func consumerID(configured string) string {
	if configured != "" {
		return configured
	}

	host, err := os.Hostname()
	if err != nil {
		return "worker"
	}
	return host
}
