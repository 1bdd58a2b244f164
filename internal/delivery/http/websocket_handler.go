package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/usecase"
)

const streamPollInterval = 500 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the fronting proxy
	},
}

// WebSocketHandler streams submission status until a verdict is stored.
type WebSocketHandler struct {
	getUC  *usecase.GetSubmissionUsecase
	logger *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(getUC *usecase.GetSubmissionUsecase, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		getUC:  getUC,
		logger: logger,
	}
}

// Stream handles GET /api/v1/submissions/:id/stream (WebSocket upgrade)
func (h *WebSocketHandler) Stream(c *gin.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid submission ID format"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("WebSocket connection opened", zap.String("submission_id", idStr))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go drainControlFrames(conn, cancel)

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		rec, err := h.getUC.Execute(ctx, id)
		if err != nil {
			_ = conn.WriteJSON(gin.H{"error": "Submission not found"})
			return
		}

		if err := conn.WriteJSON(rec); err != nil {
			h.logger.Debug("WebSocket write failed (client disconnected)", zap.Error(err))
			return
		}

		// Stop streaming once the submission reaches a terminal state
		if rec.Status.IsTerminal() {
			h.logger.Debug("Submission reached terminal state, closing WebSocket", zap.String("submission_id", idStr))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "verdict ready"))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drainControlFrames reads until the peer goes away so close frames are
// processed, then cancels the stream.
func drainControlFrames(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
