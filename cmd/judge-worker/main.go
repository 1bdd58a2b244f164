package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/bootstrap"
	"github.com/jae464/vibe-judge/internal/config"
	amqpdelivery "github.com/jae464/vibe-judge/internal/delivery/amqp"
	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/judge"
	"github.com/jae464/vibe-judge/internal/logging"
	"github.com/jae464/vibe-judge/internal/pool"
	"github.com/jae464/vibe-judge/internal/repository/postgres"
	redisrepo "github.com/jae464/vibe-judge/internal/repository/redis"
	"github.com/jae464/vibe-judge/internal/usecase"
)

// drainTimeout bounds how long in-flight submissions may finish after a shutdown signal.
const drainTimeout = 2 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting judge worker", zap.String("runtime", cfg.Sandbox.Runtime))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()
	if err := dbPool.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping PostgreSQL", zap.Error(err))
	}
	if err := postgres.Migrate(ctx, dbPool); err != nil {
		logger.Fatal("Failed to migrate schema", zap.Error(err))
	}
	logger.Info("Connected to PostgreSQL")

	// Connect to Redis
	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Invalid Redis URL", zap.Error(err))
	}
	redisClient := goredis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	// Isolation backend and judge engine
	rt, err := bootstrap.NewRuntime(cfg.Sandbox, "worker", logger)
	if err != nil {
		logger.Fatal("Failed to initialize sandbox runtime", zap.Error(err))
	}
	engine, err := bootstrap.NewEngine(cfg, rt, logger, judge.WithStatusHook(func(id uuid.UUID, status domain.JudgeStatus) {
		logger.Debug("Judge status changed", zap.String("submission_id", id.String()), zap.String("status", string(status)))
	}))
	if err != nil {
		logger.Fatal("Failed to initialize judge engine", zap.Error(err))
	}
	defer engine.Close()
	if err := engine.Ping(ctx); err != nil {
		logger.Fatal("Sandbox runtime unreachable", zap.Error(err))
	}
	if _, err := engine.Sweep(ctx); err != nil && !errors.Is(err, bootstrap.ErrNotSupported) {
		logger.Warn("Failed to sweep orphaned environments", zap.Error(err))
	}

	// Initialize use case
	judgeUC := usecase.NewJudgeSubmissionUsecase(
		postgres.NewPostgresJudgeRepository(dbPool),
		redisrepo.NewRedisIdempotencyStore(redisClient),
		engine.Judge,
		logger,
	)

	// Create buffered submission channel
	subs := make(chan *domain.SubmissionMessage, cfg.Worker.PoolSize)

	// Initialize AMQP consumer
	consumer, err := amqpdelivery.NewConsumer(cfg.RabbitMQ.URL, cfg.Worker.PoolSize, subs, logger)
	if err != nil {
		logger.Fatal("Failed to initialize AMQP consumer", zap.Error(err))
	}
	defer consumer.Close()
	logger.Info("Connected to RabbitMQ")

	// Workers keep their own context so a shutdown signal lets in-flight
	// submissions finish instead of cancelling them.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	workerPool := pool.NewWorkerPool(cfg.Worker.PoolSize, subs, judgeUC, logger)
	workerPool.Start(workCtx)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Start(ctx); err != nil {
			logger.Error("AMQP consumer error", zap.Error(err))
			cancel()
		}
	}()

	// Start Prometheus metrics server
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		ReadHeaderTimeout: 5 * time.Second,
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv.Handler = mux
	go func() {
		logger.Info("Metrics server listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down worker...")
	cancel()
	<-consumerDone
	close(subs)

	// Wait for workers to finish in-flight submissions
	stopped := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(drainTimeout):
		logger.Warn("Drain timeout reached, cancelling in-flight submissions")
		cancelWork()
		<-stopped
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("Worker stopped")
}
