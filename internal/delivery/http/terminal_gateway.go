package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/delivery/http/middleware"
	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/terminal"
)

// Gateway message types.
const (
	MsgCreateSession  = "create_session"
	MsgExecuteCommand = "execute_command"
	MsgCreateFile     = "create_file"
	MsgReadFile       = "read_file"
	MsgDestroySession = "destroy_session"
	MsgListSessions   = "list_sessions"
	MsgSystemInfo     = "system_info"

	MsgSessionCreated   = "session_created"
	MsgCommandResult    = "command_result"
	MsgFileCreated      = "file_created"
	MsgFileContent      = "file_content"
	MsgSessionDestroyed = "session_destroyed"
	MsgSessionsList     = "sessions_list"
	MsgError            = "error"
)

const (
	gatewayCleanupTimeout = 30 * time.Second
	defaultGatewayReadMax = 1 << 20
)

// GatewayRequest is one client message on the terminal socket.
type GatewayRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Language  string `json:"language,omitempty"`
	Command   string `json:"command,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Content   string `json:"content,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
}

// GatewayResponse answers exactly one GatewayRequest.
type GatewayResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TerminalGateway serves terminal sessions over one WebSocket per client.
// Sessions created on a connection are destroyed when it closes.
type TerminalGateway struct {
	manager *terminal.Manager
	readMax int64
	logger  *zap.Logger
}

// NewTerminalGateway creates a new TerminalGateway.
func NewTerminalGateway(manager *terminal.Manager, readMax int64, logger *zap.Logger) *TerminalGateway {
	if readMax <= 0 {
		readMax = defaultGatewayReadMax
	}
	return &TerminalGateway{manager: manager, readMax: readMax, logger: logger}
}

// gatewayConn is the per-connection state.
type gatewayConn struct {
	owner string

	mu       sync.Mutex
	sessions map[string]struct{}
}

func (gc *gatewayConn) add(id string) {
	gc.mu.Lock()
	gc.sessions[id] = struct{}{}
	gc.mu.Unlock()
}

func (gc *gatewayConn) remove(id string) {
	gc.mu.Lock()
	delete(gc.sessions, id)
	gc.mu.Unlock()
}

func (gc *gatewayConn) ids() []string {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	out := make([]string, 0, len(gc.sessions))
	for id := range gc.sessions {
		out = append(out, id)
	}
	return out
}

// Serve handles GET /api/v1/terminal/ws (WebSocket upgrade)
func (g *TerminalGateway) Serve(c *gin.Context) {
	owner := middleware.UserID(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(g.readMax)

	gc := &gatewayConn{owner: owner, sessions: make(map[string]struct{})}
	defer g.cleanup(gc)

	g.logger.Debug("Terminal gateway connected", zap.String("owner", owner))

	ctx := c.Request.Context()
	for {
		var req GatewayRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("Terminal gateway read failed", zap.Error(err))
			}
			return
		}

		resp := g.handle(ctx, gc, &req)
		if err := conn.WriteJSON(resp); err != nil {
			g.logger.Debug("WebSocket write failed (client disconnected)", zap.Error(err))
			return
		}
	}
}

// handle dispatches one request. It never returns nil.
func (g *TerminalGateway) handle(ctx context.Context, gc *gatewayConn, req *GatewayRequest) *GatewayResponse {
	resp := &GatewayResponse{RequestID: req.RequestID}
	fail := func(err error) *GatewayResponse {
		resp.Type = MsgError
		resp.Data = nil
		if statusFor(err) >= http.StatusInternalServerError {
			g.logger.Warn("Terminal gateway request failed", zap.String("type", req.Type), zap.Error(err))
		}
		resp.Error = err.Error()
		return resp
	}

	switch req.Type {
	case MsgCreateSession, MsgListSessions, MsgSystemInfo:
	default:
		if err := g.checkOwner(gc, req.SessionID); err != nil {
			return fail(err)
		}
	}

	switch req.Type {
	case MsgCreateSession:
		sess, err := g.manager.CreateSession(ctx, gc.owner, req.Language)
		if err != nil {
			return fail(err)
		}
		gc.add(sess.ID)
		resp.Type, resp.Data = MsgSessionCreated, sess

	case MsgExecuteCommand:
		if req.Command == "" {
			return fail(errors.New("command is required"))
		}
		res, err := g.manager.Execute(ctx, req.SessionID, req.Command)
		if err != nil {
			return fail(err)
		}
		resp.Type, resp.Data = MsgCommandResult, res

	case MsgCreateFile:
		content, err := decodeContent(req.Content, req.Encoding)
		if err != nil {
			return fail(err)
		}
		if err := g.manager.CreateFile(ctx, req.SessionID, req.Filename, content); err != nil {
			return fail(err)
		}
		resp.Type, resp.Data = MsgFileCreated, gin.H{"filename": req.Filename, "size": len(content)}

	case MsgReadFile:
		data, err := g.manager.ReadFile(ctx, req.SessionID, req.Filename)
		if err != nil {
			return fail(err)
		}
		resp.Type, resp.Data = MsgFileContent, encodeContent(req.Filename, data)

	case MsgDestroySession:
		if err := g.manager.DestroySession(ctx, req.SessionID); err != nil {
			return fail(err)
		}
		gc.remove(req.SessionID)
		resp.Type, resp.Data = MsgSessionDestroyed, gin.H{"session_id": req.SessionID}

	case MsgListSessions:
		resp.Type, resp.Data = MsgSessionsList, gin.H{"sessions": g.manager.ListSessions(gc.owner)}

	case MsgSystemInfo:
		info, err := g.manager.SystemInfo(ctx)
		if err != nil {
			return fail(err)
		}
		resp.Type, resp.Data = MsgSystemInfo, info

	default:
		return fail(errors.New("unknown message type: " + req.Type))
	}
	return resp
}

func (g *TerminalGateway) checkOwner(gc *gatewayConn, id string) error {
	sess, err := g.manager.GetSession(id)
	if err != nil {
		return err
	}
	if sess.OwnerID != gc.owner {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (g *TerminalGateway) cleanup(gc *gatewayConn) {
	ctx, cancel := context.WithTimeout(context.Background(), gatewayCleanupTimeout)
	defer cancel()
	for _, id := range gc.ids() {
		err := g.manager.DestroySession(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			g.logger.Warn("Failed to destroy session on disconnect", zap.String("session_id", id), zap.Error(err))
		}
	}
}
