package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hearth-social/backend/internal/notifications"
	"github.com/hearth-social/backend/internal/util"
)

// GetNotifications returns one page of the caller's notifications, newest first
// GET /api/v1/notifications?page=1&limit=20
func (h *Handlers) GetNotifications(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	page := util.ParseInt(c.Query("page"), 1)
	limit := util.ParseInt(c.Query("limit"), notifications.DefaultLimit)

	p, err := h.notifications.List(c.Request.Context(), userID, page, limit)
	if err != nil {
		util.RespondError(c, err, "notifications")
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetUnreadCount returns the badge count
// GET /api/v1/notifications/unread-count
func (h *Handlers) GetUnreadCount(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	n, err := h.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		util.RespondError(c, err, "notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": n})
}

// MarkNotificationRead marks one notification read
// POST /api/v1/notifications/:id/read
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if err := h.notifications.MarkRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		util.RespondError(c, err, "notification")
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllNotificationsRead marks every unread notification read
// POST /api/v1/notifications/read-all
func (h *Handlers) MarkAllNotificationsRead(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	n, err := h.notifications.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		util.RespondError(c, err, "notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// DeleteNotification removes one notification
// DELETE /api/v1/notifications/:id
func (h *Handlers) DeleteNotification(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if err := h.notifications.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		util.RespondError(c, err, "notification")
		return
	}
	c.Status(http.StatusNoContent)
}
