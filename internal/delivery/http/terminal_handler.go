package http

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/delivery/http/middleware"
	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/terminal"
)

const encodingBase64 = "base64"

type createSessionRequest struct {
	Language string `json:"language"`
}

type executeRequest struct {
	Command string `json:"command" binding:"required"`
}

type fileRequest struct {
	Filename string `json:"filename" binding:"required"`
	Content  string `json:"content"`
	// Encoding is empty for UTF-8 text or "base64".
	Encoding string `json:"encoding,omitempty"`
}

type runCodeRequest struct {
	Language string `json:"language" binding:"required"`
	Filename string `json:"filename"`
	Code     string `json:"code" binding:"required"`
}

// TerminalHandler exposes terminal sessions over REST. Sessions are only
// visible to the user that created them.
type TerminalHandler struct {
	manager *terminal.Manager
	logger  *zap.Logger
}

// NewTerminalHandler creates a new TerminalHandler.
func NewTerminalHandler(manager *terminal.Manager, logger *zap.Logger) *TerminalHandler {
	return &TerminalHandler{manager: manager, logger: logger}
}

// CreateSession handles POST /api/v1/terminal/sessions
func (h *TerminalHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	sess, err := h.manager.CreateSession(c.Request.Context(), middleware.UserID(c), req.Language)
	if err != nil {
		respondError(c, h.logger, "Create session failed", err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// ListSessions handles GET /api/v1/terminal/sessions
func (h *TerminalHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.manager.ListSessions(middleware.UserID(c)),
	})
}

// GetSession handles GET /api/v1/terminal/sessions/:id
func (h *TerminalHandler) GetSession(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess)
}

// DestroySession handles DELETE /api/v1/terminal/sessions/:id
func (h *TerminalHandler) DestroySession(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}
	if err := h.manager.DestroySession(c.Request.Context(), sess.ID); err != nil {
		respondError(c, h.logger, "Destroy session failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DestroyAll handles DELETE /api/v1/terminal/sessions
func (h *TerminalHandler) DestroyAll(c *gin.Context) {
	n, err := h.manager.DestroyUserSessions(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, "Destroy user sessions failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"destroyed": n})
}

// Execute handles POST /api/v1/terminal/sessions/:id/execute
func (h *TerminalHandler) Execute(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}
	var req executeRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.manager.Execute(c.Request.Context(), sess.ID, req.Command)
	if err != nil {
		respondError(c, h.logger, "Execute command failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CreateFile handles POST /api/v1/terminal/sessions/:id/files
func (h *TerminalHandler) CreateFile(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}
	var req fileRequest
	if !bindJSON(c, &req) {
		return
	}
	content, err := decodeContent(req.Content, req.Encoding)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.manager.CreateFile(c.Request.Context(), sess.ID, req.Filename, content); err != nil {
		respondError(c, h.logger, "Create file failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"filename": req.Filename,
		"size":     len(content),
	})
}

// ReadFile handles GET /api/v1/terminal/sessions/:id/files?filename=...
func (h *TerminalHandler) ReadFile(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}
	filename := c.Query("filename")
	if filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename query parameter is required"})
		return
	}

	data, err := h.manager.ReadFile(c.Request.Context(), sess.ID, filename)
	if err != nil {
		respondError(c, h.logger, "Read file failed", err)
		return
	}
	c.JSON(http.StatusOK, encodeContent(filename, data))
}

// RunCode handles POST /api/v1/terminal/sessions/:id/run
func (h *TerminalHandler) RunCode(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}
	var req runCodeRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.manager.RunCode(c.Request.Context(), sess.ID, req.Language, req.Filename, req.Code)
	if err != nil {
		respondError(c, h.logger, "Run code failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SystemInfo handles GET /api/v1/terminal/system
func (h *TerminalHandler) SystemInfo(c *gin.Context) {
	info, err := h.manager.SystemInfo(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "System info failed", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// owned loads the session named in the path and checks it belongs to the
// caller. Foreign sessions are reported as not found.
func (h *TerminalHandler) owned(c *gin.Context) (*domain.Session, bool) {
	sess, err := h.manager.GetSession(c.Param("id"))
	if err == nil && sess.OwnerID != middleware.UserID(c) {
		err = domain.ErrSessionNotFound
	}
	if err != nil {
		respondError(c, h.logger, "Session lookup failed", err)
		return nil, false
	}
	return sess, true
}

func decodeContent(content, encoding string) ([]byte, error) {
	switch encoding {
	case "":
		return []byte(content), nil
	case encodingBase64:
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 content: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", encoding)
}

func encodeContent(filename string, data []byte) gin.H {
	if utf8.Valid(data) {
		return gin.H{"filename": filename, "content": string(data)}
	}
	return gin.H{
		"filename": filename,
		"content":  base64.StdEncoding.EncodeToString(data),
		"encoding": encodingBase64,
	}
}
