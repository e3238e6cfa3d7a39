package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/hearth-social/backend/internal/auth"
	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/util"
	"go.uber.org/zap"
)

// Handler handles WebSocket HTTP upgrade requests
type Handler struct {
	hub            *Hub
	auth           auth.Authenticator
	originPatterns []string
}

// NewHandler creates a handshake handler. originPatterns are host patterns accepted
// in the Origin header besides the request host.
func NewHandler(hub *Hub, authenticator auth.Authenticator, originPatterns []string) *Handler {
	return &Handler{
		hub:            hub,
		auth:           authenticator,
		originPatterns: originPatterns,
	}
}

// HandleWebSocket authenticates the handshake and serves the connection until it closes.
// The token comes from "Authorization: Bearer <token>" or the "token" query parameter.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	user, _, err := h.auth.Authenticate(c.Request.Context(), auth.TokenFromRequest(c.Request))
	if err != nil {
		logger.Log.Debug("Socket handshake rejected", logger.WithIP(c.ClientIP()), zap.Error(err))
		msg := "Invalid or expired token"
		if errors.Is(err, auth.ErrNoToken) {
			msg = "Authentication token required"
		}
		util.RespondUnauthorized(c, msg)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		logger.Log.Warn("Socket upgrade failed", logger.WithUserID(user.ID), zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, user.ID, user.Username)
	client.RemoteAddr = c.ClientIP()
	client.UserAgent = c.GetHeader("User-Agent")

	h.hub.Connect(client)

	go client.WritePump()
	client.ReadPump() // blocks until the client disconnects
}

// HandleStats returns hub counters for monitoring
func (h *Handler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"socket":    h.hub.Stats(),
		"timestamp": time.Now().UTC(),
	})
}

// RegisterDefaultHandlers registers the room handlers every connection can use
func (h *Handler) RegisterDefaultHandlers() {
	RegisterPostRoomHandlers(h.hub)
}

// RegisterPostRoomHandlers lets any connection watch a post's activity
func RegisterPostRoomHandlers(hub *Hub) {
	hub.RegisterHandler(EventJoinPost, func(client *Client, msg *Message) error {
		postID, err := msg.PayloadID("postId")
		if err != nil {
			return NewHandlerError(CodeInvalidPayload, err.Error())
		}
		hub.JoinRoom(client, PostRoom(postID))
		return nil
	})

	hub.RegisterHandler(EventLeavePost, func(client *Client, msg *Message) error {
		postID, err := msg.PayloadID("postId")
		if err != nil {
			return NewHandlerError(CodeInvalidPayload, err.Error())
		}
		hub.LeaveRoom(client, PostRoom(postID))
		return nil
	})
}

// GetHub returns the hub for external access
func (h *Handler) GetHub() *Hub {
	return h.hub
}
