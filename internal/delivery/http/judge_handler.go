package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/judge"
	"github.com/jae464/vibe-judge/internal/usecase"
)

// JudgeResponse is the synchronous verdict plus its human-readable summary.
type JudgeResponse struct {
	*domain.JudgeResult
	Message string `json:"message"`
}

// JudgeHandler judges submissions inline, without the queue.
type JudgeHandler struct {
	languages usecase.Resolver
	judger    usecase.Judger
	timeout   time.Duration
	logger    *zap.Logger
}

// NewJudgeHandler creates a new JudgeHandler. A positive timeout bounds each
// inline judgement.
func NewJudgeHandler(languages usecase.Resolver, judger usecase.Judger, timeout time.Duration, logger *zap.Logger) *JudgeHandler {
	return &JudgeHandler{
		languages: languages,
		judger:    judger,
		timeout:   timeout,
		logger:    logger,
	}
}

// Judge handles POST /api/v1/judge
func (h *JudgeHandler) Judge(c *gin.Context) {
	var req domain.SubmitRequest
	if !bindJSON(c, &req) {
		return
	}

	sub, err := usecase.NewSubmission(h.languages, &req)
	if err != nil {
		respondError(c, h.logger, "Judge request rejected", err)
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result := h.judger.Judge(ctx, sub)
	// Only a judgement the deadline cut short is rewritten.
	if result.Status == domain.StatusSystemError &&
		errors.Is(ctx.Err(), context.DeadlineExceeded) && c.Request.Context().Err() == nil {
		h.logger.Warn("Inline judging ran out of time",
			zap.String("submission_id", sub.ID.String()),
			zap.Duration("timeout", h.timeout),
		)
		result.Status = domain.StatusSystemError
		result.SystemError = fmt.Sprintf("judging did not finish within %s; submit through /api/v1/submissions instead", h.timeout)
	}
	h.logger.Info("Submission judged inline",
		zap.String("submission_id", sub.ID.String()),
		zap.String("language", sub.Language),
		zap.String("status", string(result.Status)),
		zap.Int("passed", result.PassedTestCases),
		zap.Int("total", result.TotalTestCases),
	)

	c.JSON(http.StatusOK, JudgeResponse{
		JudgeResult: result,
		Message:     judge.FormatMessage(result),
	})
}
