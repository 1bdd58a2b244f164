package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/delivery/http/middleware"
	"github.com/jae464/vibe-judge/internal/language"
	"github.com/jae464/vibe-judge/internal/terminal"
	"github.com/jae464/vibe-judge/internal/usecase"
)

// RouterDeps carries everything the HTTP API serves. Nil Submit/GetSubmission
// disables the asynchronous routes; a nil Terminal disables terminal routes.
// JudgeTimeout bounds inline judging so the verdict is written before the
// server's write deadline; zero leaves it unbounded.
type RouterDeps struct {
	Languages     *language.Registry
	Judger        usecase.Judger
	Submit        *usecase.SubmitUsecase
	GetSubmission *usecase.GetSubmissionUsecase
	Terminal      *terminal.Manager
	Health        map[string]HealthCheck
	JudgeTimeout  time.Duration
	RateLimit     int
	MaxBodyBytes  int64
	Logger        *zap.Logger
}

// NewRouter creates and configures the Gin router with all routes and middleware.
// ctx bounds background goroutines owned by middleware.
func NewRouter(ctx context.Context, deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(logger))

	// Metrics endpoint (no rate limiting)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		healthHandler := NewHealthHandler(deps.Health, logger)
		v1.GET("/health", healthHandler.Health)

		langHandler := NewLanguageHandler(deps.Languages)
		v1.GET("/languages", langHandler.List)
	}

	limited := v1.Group("")
	limited.Use(middleware.RateLimiter(ctx, deps.RateLimit))
	if deps.MaxBodyBytes > 0 {
		limited.Use(middleware.BodySizeLimit(deps.MaxBodyBytes))
	}
	{
		judgeHandler := NewJudgeHandler(deps.Languages, deps.Judger, deps.JudgeTimeout, logger)
		limited.POST("/judge", judgeHandler.Judge)

		if deps.Submit != nil && deps.GetSubmission != nil {
			subHandler := NewSubmissionHandler(deps.Submit, deps.GetSubmission, logger)
			limited.POST("/submissions", subHandler.Submit)
			limited.GET("/submissions/:id", subHandler.GetByID)

			// WebSocket for real-time updates
			wsHandler := NewWebSocketHandler(deps.GetSubmission, logger)
			limited.GET("/submissions/:id/stream", wsHandler.Stream)
		}
	}

	if deps.Terminal != nil {
		term := limited.Group("/terminal")
		term.Use(middleware.RequireUser())

		th := NewTerminalHandler(deps.Terminal, logger)
		term.POST("/sessions", th.CreateSession)
		term.GET("/sessions", th.ListSessions)
		term.DELETE("/sessions", th.DestroyAll)
		term.GET("/sessions/:id", th.GetSession)
		term.DELETE("/sessions/:id", th.DestroySession)
		term.POST("/sessions/:id/execute", th.Execute)
		term.POST("/sessions/:id/files", th.CreateFile)
		term.GET("/sessions/:id/files", th.ReadFile)
		term.POST("/sessions/:id/run", th.RunCode)
		term.GET("/system", th.SystemInfo)

		gw := NewTerminalGateway(deps.Terminal, deps.MaxBodyBytes, logger)
		term.GET("/ws", gw.Serve)
	}

	return router
}
