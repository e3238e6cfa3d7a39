package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hearth-social/backend/internal/util"
)

// SendMessageRequest is the body of POST /conversations/:id/messages
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage posts a message to a conversation the caller belongs to
// POST /api/v1/conversations/:id/messages
func (h *Handlers) SendMessage(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "content is required")
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), userID, c.Param("id"), req.Content)
	if err != nil {
		util.RespondError(c, err, "conversation")
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ListMessages returns the latest messages of a conversation, oldest first
// GET /api/v1/conversations/:id/messages?limit=50
func (h *Handlers) ListMessages(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	list, err := h.messages.List(c.Request.Context(), userID, c.Param("id"), util.ParseInt(c.Query("limit"), 0))
	if err != nil {
		util.RespondError(c, err, "conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": list})
}

// DeleteMessage soft-deletes the caller's own message; the purge job removes it later
// DELETE /api/v1/messages/:id
func (h *Handlers) DeleteMessage(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if err := h.messages.SoftDelete(c.Request.Context(), userID, c.Param("id")); err != nil {
		util.RespondError(c, err, "message")
		return
	}
	c.Status(http.StatusNoContent)
}
