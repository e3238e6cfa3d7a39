package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hearth-social/backend/internal/util"
)

// FollowUser follows the user in the path. Following twice is not an error.
// POST /api/v1/users/:id/follow
func (h *Handlers) FollowUser(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	created, err := h.social.Follow(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		util.RespondError(c, err, "user")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"following": true})
}

// UnfollowUser removes the follow edge and its notification
// DELETE /api/v1/users/:id/follow
func (h *Handlers) UnfollowUser(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if err := h.social.Unfollow(c.Request.Context(), userID, c.Param("id")); err != nil {
		util.RespondError(c, err, "follow")
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": false})
}
