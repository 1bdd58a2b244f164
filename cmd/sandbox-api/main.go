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

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/bootstrap"
	"github.com/jae464/vibe-judge/internal/config"
	handler "github.com/jae464/vibe-judge/internal/delivery/http"
	"github.com/jae464/vibe-judge/internal/logging"
	"github.com/jae464/vibe-judge/internal/publisher"
	"github.com/jae464/vibe-judge/internal/repository/postgres"
	"github.com/jae464/vibe-judge/internal/usecase"
)

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

	logger.Info("Starting sandbox API server", zap.String("runtime", cfg.Sandbox.Runtime))

	// Set Gin mode
	gin.SetMode(cfg.Server.GinMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Isolation backend, judge engine and terminal sessions
	rt, err := bootstrap.NewRuntime(cfg.Sandbox, "api", logger)
	if err != nil {
		logger.Fatal("Failed to initialize sandbox runtime", zap.Error(err))
	}
	engine, err := bootstrap.NewEngine(cfg, rt, logger)
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

	manager := bootstrap.NewTerminalManager(cfg, engine, logger)
	go manager.Run(ctx)

	deps := handler.RouterDeps{
		Languages:    engine.Languages,
		Judger:       engine.Judge,
		Terminal:     manager,
		JudgeTimeout: inlineJudgeTimeout(cfg.Server.WriteTimeout),
		RateLimit:    cfg.Server.RateLimit,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
		Health: map[string]handler.HealthCheck{
			"sandbox": engine.Ping,
		},
	}

	// Asynchronous submissions need both the database and the broker.
	if cfg.Database.URL != "" && cfg.RabbitMQ.URL != "" {
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

		pub, err := publisher.NewRabbitMQPublisher(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ publisher", zap.Error(err))
		}
		defer pub.Close()
		logger.Info("Connected to RabbitMQ")

		repo := postgres.NewPostgresJudgeRepository(dbPool)
		deps.Submit = usecase.NewSubmitUsecase(engine.Languages, repo, pub, logger)
		deps.GetSubmission = usecase.NewGetSubmissionUsecase(repo, logger)
		deps.Health["postgres"] = dbPool.Ping
	} else {
		logger.Warn("Asynchronous submissions disabled: DATABASE_URL or RABBITMQ_URL is empty")
	}

	router := handler.NewRouter(ctx, deps)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down API server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to destroy every terminal session", zap.Error(err))
	}

	logger.Info("API server stopped")
}

// inlineJudgeTimeout leaves room under the write deadline to encode and send
// the verdict.
func inlineJudgeTimeout(writeTimeout time.Duration) time.Duration {
	const margin = 5 * time.Second
	switch {
	case writeTimeout <= 0:
		return 0
	case writeTimeout > 2*margin:
		return writeTimeout - margin
	default:
		return writeTimeout * 3 / 4
	}
}
