package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/usecase"
)

// SubmissionHandler handles HTTP requests for queued submissions.
type SubmissionHandler struct {
	submitUC *usecase.SubmitUsecase
	getUC    *usecase.GetSubmissionUsecase
	logger   *zap.Logger
}

// NewSubmissionHandler creates a new SubmissionHandler.
func NewSubmissionHandler(submitUC *usecase.SubmitUsecase, getUC *usecase.GetSubmissionUsecase, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		submitUC: submitUC,
		getUC:    getUC,
		logger:   logger,
	}
}

// Submit handles POST /api/v1/submissions
func (h *SubmissionHandler) Submit(c *gin.Context) {
	var req domain.SubmitRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.submitUC.Execute(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, "Submit failed", err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// GetByID handles GET /api/v1/submissions/:id
func (h *SubmissionHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid submission ID format"})
		return
	}

	rec, err := h.getUC.Execute(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Get submission failed", err)
		return
	}

	c.JSON(http.StatusOK, rec)
}
