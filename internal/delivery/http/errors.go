package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/domain"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrUnsupportedLanguage),
		errors.Is(err, domain.ErrEmptySourceCode),
		errors.Is(err, domain.ErrInvalidSubmission),
		errors.Is(err, domain.ErrInvalidFilename):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPayloadTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrSubmissionNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionLimitReached):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrPublishFailed), errors.Is(err, domain.ErrEnvironmentSetup):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": ...}. Internal failures are logged and
// hidden from the client.
func respondError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(status, gin.H{"error": "Internal server error"})
	case http.StatusServiceUnavailable:
		logger.Warn(msg, zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(status, gin.H{"error": "Service temporarily unavailable"})
	default:
		c.JSON(status, gin.H{"error": err.Error()})
	}
}

// bindJSON decodes the body into v, answering 400 or 413 on failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return false
	}
	return true
}
