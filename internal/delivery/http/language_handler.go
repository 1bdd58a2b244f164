package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jae464/vibe-judge/internal/language"
)

// LanguageHandler handles language listing requests.
type LanguageHandler struct {
	registry *language.Registry
}

// NewLanguageHandler creates a new LanguageHandler.
func NewLanguageHandler(registry *language.Registry) *LanguageHandler {
	return &LanguageHandler{registry: registry}
}

// List handles GET /api/v1/languages
func (h *LanguageHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"languages": h.registry.Info(),
	})
}
