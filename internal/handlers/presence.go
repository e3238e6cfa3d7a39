package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hearth-social/backend/internal/util"
)

// MaxPresenceLookup bounds the ids accepted by one presence query
const MaxPresenceLookup = 100

// PresenceRequest is the body of POST /presence
type PresenceRequest struct {
	UserIDs []string `json:"user_ids" binding:"required"`
}

// GetPresence returns online status and last-seen time for a batch of users
// POST /api/v1/presence
func (h *Handlers) GetPresence(c *gin.Context) {
	if _, ok := util.GetUserIDFromContext(c); !ok {
		return
	}

	var req PresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "user_ids is required")
		return
	}
	if len(req.UserIDs) > MaxPresenceLookup {
		util.RespondValidationError(c, "user_ids", fmt.Sprintf("at most %d ids per request", MaxPresenceLookup))
		return
	}

	c.JSON(http.StatusOK, gin.H{"presence": h.presence.Snapshot(req.UserIDs)})
}

// GetUserPresence returns one user's status
// GET /api/v1/users/:id/presence
func (h *Handlers) GetUserPresence(c *gin.Context) {
	if _, ok := util.GetUserIDFromContext(c); !ok {
		return
	}

	c.JSON(http.StatusOK, h.presence.Snapshot([]string{c.Param("id")})[0])
}
